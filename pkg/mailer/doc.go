// Package mailer sends operational email through Postmark.
//
// It exists for the alerting path: when event processing detects a
// failure-rate threshold breach, the alert is delivered as an email to the
// operations address. DevSender substitutes in development and tests.
package mailer
