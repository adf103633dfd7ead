package summarizer

const summaryPrompt = `You are an email summarization assistant. Your task is to convert emails into short, text-message-like summaries that capture the key information.

Guidelines:
- Keep it conversational and brief (like a text message)
- Extract the main action items, requests, or information
- Preserve important details like dates, times, names
- Use casual language but remain professional
- Maximum 2-3 sentences
- Focus on what the recipient needs to know or do

Email to summarize:
From: %s
Subject: %s
Body: %s

Provide only the summary, no additional text:`

const composeBodyPrompt = `Write a %s email from the following text:

%s

Write only the body. Do not include a subject line; start directly with the greeting.`

const composeSubjectPrompt = `Write a concise subject line for a %s email based on this content:

%s

Reply with the subject text only, without a "Subject:" prefix or quotes.`
