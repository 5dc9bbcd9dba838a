package ai

import (
	"fmt"
	"strings"
)

// Prompts shared by the text-completion backends.

func InitialQuestionPrompt(job JobDetails, resumeText string) string {
	resume := strings.TrimSpace(resumeText)
	if resume == "" {
		resume = "(no resume available)"
	}
	return fmt.Sprintf(`You are an expert technical interviewer running a live video interview.
Keep a professional, encouraging and conversational tone.
The candidate applied for the %q position. Key skills: %s.

Review the candidate's resume below and pick the single project or experience most relevant to the role.

--- RESUME START ---
%s
--- RESUME END ---

Write ONE concise, open-ended opening question about that accomplishment. Open with a short friendly greeting.
Do not ask a generic "tell me about yourself".
Reply with the question text only.`, job.Title, job.skillList(), resume)
}

func FollowUpQuestionPrompt(transcript string, job JobDetails) string {
	conversation := strings.TrimSpace(transcript)
	if conversation == "" {
		conversation = "The candidate has just finished speaking."
	}
	return fmt.Sprintf(`You are an expert technical interviewer continuing a conversation.
Keep a professional, inquisitive tone.
The candidate is interviewing for the %q position requiring: %s.

--- TRANSCRIPT START ---
%s
--- TRANSCRIPT END ---

Ask ONE follow-up question about the candidate's LAST answer.
If the answer was strong, probe deeper into a technical detail they mentioned.
If it was weak or vague, ask a clarifying question that helps them elaborate.
Never repeat a question already asked. Keep it concise.
Reply with the question text only.`, job.Title, job.skillList(), conversation)
}

func AnalysisPrompt(transcript string, job JobDetails) string {
	return fmt.Sprintf(`You are an expert recruitment analyst evaluating a video interview transcript for the %q position.
Required skills: %s.

--- INTERVIEW TRANSCRIPT ---
%s
--- END TRANSCRIPT ---

Respond with a JSON object with exactly these fields:
"score": integer from 0 to 100 for how well the answers match the job requirements.
"summary": a brief, neutral summary of the key points discussed.
"status": either "AI Interview Passed" or "AI Interview Failed", based on the score.
Reply with the JSON object only.`, job.Title, job.skillList(), strings.TrimSpace(transcript))
}
