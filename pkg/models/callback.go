package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackShowOriginal CallbackAction = "orig"
	CallbackCopyCode     CallbackAction = "cc"
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action   CallbackAction `json:"a"`
	RecordID int64          `json:"r,omitempty"` // 0 means the record behind the pressed message
	CodeIdx  int            `json:"c,omitempty"` // Code index for copying
}
