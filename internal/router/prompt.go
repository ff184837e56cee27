package router

import (
	"strings"
	"text/template"
)

// GeneralAnswerPrefix marks answers produced without document context.
const GeneralAnswerPrefix = "This question is not from the document. Here's a general answer:\n\n"

// NotCoveredAnswer is what grounded prompts ask the generator to say when
// the context does not answer the question.
const NotCoveredAnswer = "I cannot answer this question as it's not covered in the uploaded document."

var groundedTemplate = template.Must(template.New("grounded").Parse(
	`You are an AI assistant that answers questions based on the provided document context.

Context from the document:
{{range $i, $c := .Context}}{{if $i}}
---
{{end}}{{$c}}
{{end}}
Question: {{.Question}}

Instructions:
- Answer the question based ONLY on the information provided in the context from the document
- If the question cannot be answered from the context, respond with: "{{.NotCovered}}"
- Be precise and cite relevant information from the document
- Do not make up or assume information not present in the context

Answer:
`))

var generalTemplate = template.Must(template.New("general").Parse(
	`You are a helpful AI assistant. The user asked a question that is not related to the document they uploaded.

Question: {{.Question}}

Please provide a helpful and informative answer to this general question.

Answer:
`))

// GroundedPrompt embeds the context texts, in rank order, ahead of the question.
func GroundedPrompt(question string, context []string) string {
	var b strings.Builder
	_ = groundedTemplate.Execute(&b, struct {
		Question   string
		Context    []string
		NotCovered string
	}{question, context, NotCoveredAnswer})
	return b.String()
}

// GeneralPrompt asks for an answer to question without any document context.
func GeneralPrompt(question string) string {
	var b strings.Builder
	_ = generalTemplate.Execute(&b, struct{ Question string }{question})
	return b.String()
}
