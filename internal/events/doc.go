// Package events is the in-process notification bus behind the
// onSessionUpdated and onNewMessage callbacks.
//
// Handlers run synchronously on the publishing goroutine, in subscription
// order. A handler error is logged and never reaches the publisher.
package events
