package stream

import (
	"encoding/json"
	"strings"

	"github.com/betbot/goperp/perp/types"
)

// Subscription identifies one stream subscription. Only the fields the
// subscription type needs are populated; addresses are lowercased before
// sending because the server treats them as opaque keys.
type Subscription struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
	Coin string `json:"coin,omitempty"`
}

// Subscription constructors for the channels the client consumes.

func AllMidsSubscription() Subscription {
	return Subscription{Type: "allMids"}
}

func ClearinghouseStateSubscription(user string) Subscription {
	return Subscription{Type: "clearinghouseState", User: strings.ToLower(user)}
}

func OpenOrdersSubscription(user string) Subscription {
	return Subscription{Type: "openOrders", User: strings.ToLower(user)}
}

func OrderUpdatesSubscription(user string) Subscription {
	return Subscription{Type: "orderUpdates", User: strings.ToLower(user)}
}

func UserEventsSubscription(user string) Subscription {
	return Subscription{Type: "userEvents", User: strings.ToLower(user)}
}

// Key is the subscription identity used for dedup and replay.
func (s Subscription) Key() string {
	key := s.Type
	if s.User != "" {
		key += ":" + s.User
	}
	if s.Coin != "" {
		key += ":" + s.Coin
	}
	return key
}

type subscribeRequest struct {
	Method       string       `json:"method"`
	Subscription Subscription `json:"subscription"`
}

type pingRequest struct {
	Method string `json:"method"`
}

// envelope is the tagged union every inbound message arrives in.
type envelope struct {
	Channel string          `json:"channel"`
	Data    json.RawMessage `json:"data"`
}

// dispatch decodes the payload for the envelope's channel and invokes the
// matching callback. Unknown channels are ignored rather than treated as
// errors: the server adds channels over time.
func dispatch(env envelope, cb Callbacks) {
	switch env.Channel {
	case "pong", "subscriptionResponse":
		// heartbeat echo / subscribe ack, nothing to deliver

	case "error":
		var msg string
		_ = json.Unmarshal(env.Data, &msg)
		// unsubscribe races produce harmless complaints
		if strings.Contains(msg, "Already unsubscribed") {
			return
		}
		log.Warnf("server error: %s", msg)
		if cb.OnError != nil {
			cb.OnError(&ServerError{Message: msg})
		}

	case "allMids":
		if cb.OnMids == nil {
			return
		}
		var data types.AllMidsData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.Warnf("failed to parse allMids: %v", err)
			return
		}
		mids := make(map[string]float64, len(data.Mids))
		for coin, px := range data.Mids {
			mids[coin] = px.Float64()
		}
		cb.OnMids(mids)

	case "clearinghouseState":
		if cb.OnAccount == nil {
			return
		}
		var state types.ClearinghouseState
		if err := json.Unmarshal(env.Data, &state); err != nil {
			log.Warnf("failed to parse clearinghouseState: %v", err)
			return
		}
		cb.OnAccount(&state)

	case "orderUpdates":
		if cb.OnOrderUpdate == nil {
			return
		}
		var updates []types.WireOrderUpdate
		if err := json.Unmarshal(env.Data, &updates); err != nil {
			log.Warnf("failed to parse orderUpdates: %v", err)
			return
		}
		cb.OnOrderUpdate(updates)

	case "openOrders":
		if cb.OnOpenOrders == nil {
			return
		}
		var data types.OpenOrdersData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.Warnf("failed to parse openOrders: %v", err)
			return
		}
		cb.OnOpenOrders(data.Orders)

	case "userEvents":
		if cb.OnFills == nil {
			return
		}
		var data types.UserEventsData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			log.Warnf("failed to parse userEvents: %v", err)
			return
		}
		if len(data.Fills) > 0 {
			cb.OnFills(data.Fills)
		}
	}
}

// ServerError is an error message relayed by the server on its error channel.
type ServerError struct {
	Message string
}

func (e *ServerError) Error() string {
	return "stream server error: " + e.Message
}
