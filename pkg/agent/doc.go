// Package agent defines the execution collaborator contract: the closed set
// of agent kinds, the task/update/outcome types the runner exchanges with
// them, and the chat-completion providers backing the LLM agent kind.
//
// Agent kinds are resolved once, at session-start time. The runner never
// looks an agent up again mid-session.
package agent
