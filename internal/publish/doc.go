// Package publish forwards utterance events to an MQTT broker.
//
// Topics, relative to the configured prefix:
//
//	<prefix>/utterances  final utterances (JSON)
//	<prefix>/partials    interim hypotheses, when enabled (JSON)
//	<prefix>/status      retained "online"/"offline", with a last-will of "offline"
package publish
