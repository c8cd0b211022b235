package prompt

import "fmt"

// AnswerPrompt renders the full generation prompt for a question over an
// assembled context.
func AnswerPrompt(asm *Assembled, question, documentTitle string) string {
	if documentTitle == "" {
		documentTitle = "the uploaded material"
	}
	return fmt.Sprintf(`You are an assistant that helps users understand their documents. You have been provided with relevant excerpts from %q to answer the question.

Context from the document:
%s
Question: %s

Instructions:
- Answer clearly and accurately based on the provided context
- Reference specific information from the context when relevant
- If the context does not contain enough information, say so honestly
- Keep the answer concise but complete

Answer:`, documentTitle, asm.Text, question)
}

// SummaryPrompt renders a summarization prompt over an assembled context.
func SummaryPrompt(asm *Assembled, documentTitle string) string {
	if documentTitle == "" {
		documentTitle = "the document"
	}
	return fmt.Sprintf(`Provide a concise summary of the following excerpts from %q:

%s
Summary:`, documentTitle, asm.Text)
}

// FollowUpPrompt asks the model for follow-up questions to a completed
// exchange. The response is expected as a numbered list.
func FollowUpPrompt(question, answer string) string {
	return fmt.Sprintf(`Based on this exchange, suggest up to 3 follow-up questions that would deepen understanding of the topic. Return them as a numbered list, one per line.

Question: %s
Answer: %s

Follow-up questions:
1.`, question, answer)
}
