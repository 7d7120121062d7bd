// Package agent answers applicant questions with an LLM, using the
// admissions document as context and the user's session as history.
//
// Invariants:
//   - The question is appended to the session before the backend is called,
//     so a failed call leaves the question in history.
//   - The answer is appended only when the backend returned non-empty text.
//   - Profiles are tried by priority; a failing profile cools down for a
//     period that grows with its consecutive failures.
//
// Usage:
//
//	runner, _ := agent.NewRunner(agent.Config{
//		Cache:     cache,
//		Knowledge: store,
//		Profiles:  profiles,
//	})
//	answer, _ := runner.Answer(ctx, "42", "Какие экзамены нужны?")
//	_ = answer
package agent
