// Package api exposes the REST interface used to submit background goals,
// inspect their progress and list the tools the agent can use. It also serves
// health and Prometheus endpoints when metrics are enabled.
package api
