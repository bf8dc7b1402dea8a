package publish

import "strings"

func join(prefix, leaf string) string {
	return strings.TrimRight(prefix, "/") + "/" + leaf
}

// TopicUtterances is where final utterances are published.
func TopicUtterances(prefix string) string { return join(prefix, "utterances") }

// TopicPartials is where interim hypotheses are published.
func TopicPartials(prefix string) string { return join(prefix, "partials") }

// TopicStatus carries the retained online/offline state.
func TopicStatus(prefix string) string { return join(prefix, "status") }
