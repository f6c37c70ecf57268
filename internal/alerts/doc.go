// Package alerts holds the periodic evaluators that turn lending state into
// user notifications, and the offer book that carries their follow-up
// actions.
//
// An evaluator never waits for a user. Where the alert invites an action
// (renew a loan due today, take a reserved resource that became free) it
// posts an Offer; the offer is resolved later by a person, through the
// foreground API, or by a Responder policy.
package alerts
