package email

import (
	"fmt"
	"net"
	"strings"
)

// Servers IMAP and SMTP endpoints for a mailbox
type Servers struct {
	IMAPHost string
	IMAPPort int
	SMTPHost string
	SMTPPort int
}

var (
	gmailServers   = Servers{"imap.gmail.com", 993, "smtp.gmail.com", 587}
	outlookServers = Servers{"outlook.office365.com", 993, "smtp.office365.com", 587}
	yahooServers   = Servers{"imap.mail.yahoo.com", 993, "smtp.mail.yahoo.com", 465}
	icloudServers  = Servers{"imap.mail.me.com", 993, "smtp.mail.me.com", 587}
)

// Common servers for popular email providers
var knownServers = map[string]Servers{
	"gmail.com":      gmailServers,
	"googlemail.com": gmailServers,
	"outlook.com":    outlookServers,
	"hotmail.com":    outlookServers,
	"live.com":       outlookServers,
	"msn.com":        outlookServers,
	"yahoo.com":      yahooServers,
	"yahoo.co.uk":    yahooServers,
	"icloud.com":     icloudServers,
	"me.com":         icloudServers,
	"mac.com":        icloudServers,
	"aol.com":        {"imap.aol.com", 993, "smtp.aol.com", 465},
	"zoho.com":       {"imap.zoho.com", 993, "smtp.zoho.com", 465},
	"fastmail.com":   {"imap.fastmail.com", 993, "smtp.fastmail.com", 465},
	"gmx.com":        {"imap.gmx.com", 993, "mail.gmx.com", 587},
	"yandex.com":     {"imap.yandex.com", 993, "smtp.yandex.com", 465},
	"mail.ru":        {"imap.mail.ru", 993, "smtp.mail.ru", 465},
}

// Hosted mail suites recognised by their MX hosts, for custom domains
var mxSuffixes = map[string]Servers{
	"google.com":             gmailServers,
	"googlemail.com":         gmailServers,
	"protection.outlook.com": outlookServers,
	"icloud.com":             icloudServers,
}

// lookupMX is replaced in tests
var lookupMX = net.LookupMX

// ResolveServers determines IMAP and SMTP endpoints for an email address
func ResolveServers(address string) (Servers, error) {
	domain := GetDomainFromEmail(address)
	if domain == "" {
		return Servers{}, fmt.Errorf("invalid email format")
	}

	if servers, ok := knownServers[domain]; ok {
		return servers, nil
	}

	if servers, ok := resolveViaMX(domain); ok {
		return servers, nil
	}

	return Servers{"imap." + domain, 993, "smtp." + domain, 587}, nil
}

// resolveViaMX maps a domain hosted by a known suite to that suite's servers
func resolveViaMX(domain string) (Servers, bool) {
	mxRecords, err := lookupMX(domain)
	if err != nil || len(mxRecords) == 0 {
		return Servers{}, false
	}

	mxHost := strings.ToLower(strings.TrimSuffix(mxRecords[0].Host, "."))
	for suffix, servers := range mxSuffixes {
		if mxHost == suffix || strings.HasSuffix(mxHost, "."+suffix) {
			return servers, true
		}
	}
	return Servers{}, false
}

// GetDomainFromEmail extracts domain from email address
func GetDomainFromEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return ""
	}
	return strings.ToLower(parts[1])
}
