//go:build bdd

package steps

import (
	"fmt"
	"time"

	"github.com/cucumber/godog"
)

// RegisterEventStoreSteps registers every step definition exercising the
// topic/event/consumer HTTP surface (spec.md §6.1).
func RegisterEventStoreSteps(ctx *godog.ScenarioContext, tc *TestContext, webhooks *WebhookRecorder) {
	ctx.Step(`^I create topic "([^"]*)" with schema:$`, func(name string, schema *godog.DocString) error {
		body := fmt.Sprintf(`{"name":%q,"schemas":[%s]}`, name, schema.Content)
		return tc.DoRequest("POST", "/topics", body)
	})

	ctx.Step(`^I publish events:$`, func(events *godog.DocString) error {
		return tc.DoRequest("POST", "/events", events.Content)
	})

	ctx.Step(`^I get events for topic "([^"]*)"$`, func(topic string) error {
		return tc.DoRequest("GET", "/topics/"+topic+"/events", "")
	})

	ctx.Step(`^I get topic "([^"]*)"$`, func(topic string) error {
		return tc.DoRequest("GET", "/topics/"+topic, "")
	})

	ctx.Step(`^I update schemas for topic "([^"]*)" to:$`, func(topic string, schema *godog.DocString) error {
		body := fmt.Sprintf(`{"schemas":[%s]}`, schema.Content)
		return tc.DoRequest("PUT", "/topics/"+topic, body)
	})

	ctx.Step(`^a consumer callback at "([^"]*)" answering (\d+)$`, func(path string, status int) error {
		tc.Store("callbackURL", webhooks.URL(path, status))
		tc.Store("callbackPath", path)
		return nil
	})

	ctx.Step(`^I register a consumer for topic "([^"]*)"$`, func(topic string) error {
		body := fmt.Sprintf(`{"callback":"{{callbackURL}}","topics":{%q:null}}`, topic)
		if err := tc.DoRequest("POST", "/consumers/register", body); err != nil {
			return err
		}
		if tc.LastJSON != nil {
			tc.Store("consumerId", tc.LastJSON["consumerId"])
		}
		return nil
	})

	ctx.Step(`^I get the registered consumer$`, func() error {
		return tc.DoRequest("GET", "/consumers/{{consumerId}}", "")
	})

	ctx.Step(`^I list consumers$`, func() error {
		return tc.DoRequest("GET", "/consumers", "")
	})

	ctx.Step(`^the response status should be (\d+)$`, func(status int) error {
		return tc.StatusShouldBe(status)
	})

	ctx.Step(`^the response field "([^"]*)" should equal "([^"]*)"$`, func(field, expected string) error {
		return tc.JSONFieldEquals(field, expected)
	})

	ctx.Step(`^the response array field "([^"]*)" should have length (\d+)$`, func(field string, length int) error {
		return tc.JSONArrayFieldLength(field, length)
	})

	ctx.Step(`^within (\d+)s the callback has received events in order:$`, func(seconds int, idsDoc *godog.DocString) error {
		deadline := time.Now().Add(time.Duration(seconds) * time.Second)
		path, _ := tc.StoredValues["callbackPath"].(string)

		var lastIDs []string
		for time.Now().Before(deadline) {
			lastIDs = collectEventIDs(webhooks.Deliveries(path))
			if idsMatch(lastIDs, idsDoc.Content) {
				return nil
			}
			time.Sleep(20 * time.Millisecond)
		}
		return fmt.Errorf("callback never received the expected ids; last seen: %v", lastIDs)
	})

	ctx.Step(`^within (\d+)s the consumer list no longer contains the registered consumer$`, func(seconds int) error {
		deadline := time.Now().Add(time.Duration(seconds) * time.Second)
		for time.Now().Before(deadline) {
			if err := tc.DoRequest("GET", "/consumers", ""); err != nil {
				return err
			}
			if !consumerListContains(tc.LastJSON["consumers"], tc.StoredValues["consumerId"]) {
				return nil
			}
			time.Sleep(20 * time.Millisecond)
		}
		return fmt.Errorf("consumer was still listed after %ds", seconds)
	})

	ctx.Step(`^within (\d+)s the registered consumer's cursor for topic "([^"]*)" is "([^"]*)"$`, func(seconds int, qualifiedTopic, expected string) error {
		deadline := time.Now().Add(time.Duration(seconds) * time.Second)
		var got string
		for time.Now().Before(deadline) {
			if err := tc.DoRequest("GET", "/consumers", ""); err != nil {
				return err
			}
			got = consumerCursor(tc.LastJSON["consumers"], tc.StoredValues["consumerId"], qualifiedTopic)
			if got == expected {
				return nil
			}
			time.Sleep(20 * time.Millisecond)
		}
		return fmt.Errorf("cursor for %q: expected %q, last seen %q", qualifiedTopic, expected, got)
	})
}

// consumerCursor returns the listed cursor of consumer id for qualifiedTopic,
// or "" if the consumer or topic is not in the list.
func consumerCursor(list interface{}, id interface{}, qualifiedTopic string) string {
	arr, ok := list.([]interface{})
	if !ok {
		return ""
	}
	for _, item := range arr {
		m, ok := item.(map[string]interface{})
		if !ok || fmt.Sprintf("%v", m["id"]) != fmt.Sprintf("%v", id) {
			continue
		}
		topics, _ := m["topics"].(map[string]interface{})
		cursor, _ := topics[qualifiedTopic].(string)
		return cursor
	}
	return ""
}

func collectEventIDs(deliveries []deliveryPayload) []string {
	var ids []string
	for _, d := range deliveries {
		for _, e := range d.Events {
			if id, ok := e["id"].(string); ok {
				ids = append(ids, id)
			}
		}
	}
	return ids
}

func idsMatch(got []string, wantJoined string) bool {
	want := splitNonEmpty(wantJoined)
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}

func splitNonEmpty(s string) []string {
	var out []string
	start := -1
	for i, r := range s {
		if r == '"' {
			if start == -1 {
				start = i + 1
			} else {
				out = append(out, s[start:i])
				start = -1
			}
		}
	}
	return out
}

func consumerListContains(list interface{}, id interface{}) bool {
	arr, ok := list.([]interface{})
	if !ok {
		return false
	}
	for _, item := range arr {
		m, ok := item.(map[string]interface{})
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", m["id"]) == fmt.Sprintf("%v", id) {
			return true
		}
	}
	return false
}
