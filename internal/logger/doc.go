// Package logger wraps zap for every chainmail component.
//
// Two modes are supported: "production" writes JSON with ISO8601
// timestamps, and any other mode writes coloured console output at debug
// level.
//
// # Context fields
//
// Values stored with WithValue under OwnerKey, SessionTagKey or
// RequestIdKey are attached as fields by Ctx, so a request id set by relay
// middleware or a session tag set by ingest follows every line logged for
// that unit of work.
//
// Components take a *Logger and derive their own with Named; a nil logger
// is replaced by Nop.
package logger
