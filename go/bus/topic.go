package bus

import (
	"fmt"
	"strings"
)

const topicPrefix = "Peripheral"

// MakeTopic builds "Peripheral.<model>.<event>".
func MakeTopic(model, event string) string {
	return fmt.Sprintf("%s.%s.%s", topicPrefix, model, event)
}

// SplitTopic is the inverse of MakeTopic. Model names may contain dots
// (MMIOLED.<name>), so the event is everything after the last one.
func SplitTopic(topic string) (model, event string, ok bool) {
	if !strings.HasPrefix(topic, topicPrefix+".") {
		return "", "", false
	}
	rest := topic[len(topicPrefix)+1:]
	i := strings.LastIndex(rest, ".")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}
