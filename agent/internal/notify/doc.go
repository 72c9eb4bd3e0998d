// Package notify posts agent health transitions to webhooks.
//
// Supported targets are Slack incoming webhooks, Teams connector cards and
// generic HTTP endpoints receiving the Event as JSON. Delivery is best
// effort: failures are logged and never affect collection.
package notify
