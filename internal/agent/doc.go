// Package agent contains the orchestrator that drives the think, act and
// observe loop. Each iteration formats a prompt from the goal, the tool
// registry and the conversation memory, asks the model for its next step,
// and either finishes with a final answer or dispatches the selected tool
// and records the observation.
package agent
