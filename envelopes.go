package nostr

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mailru/easyjson"
	jwriter "github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

var (
	ErrUnknownLabel    = errors.New("unknown envelope label")
	ErrInvalidEnvelope = errors.New("invalid json envelope")
)

// ParseMessage parses any message a relay (or a client) can send into its typed Envelope.
func ParseMessage(message string) (Envelope, error) {
	firstQuote := strings.IndexByte(message, '"')
	if firstQuote == -1 {
		return nil, ErrInvalidEnvelope
	}
	secondQuote := strings.IndexByte(message[firstQuote+1:], '"')
	if secondQuote == -1 {
		return nil, ErrInvalidEnvelope
	}
	label := message[firstQuote+1 : firstQuote+1+secondQuote]

	var v Envelope
	switch label {
	case "EVENT":
		v = &EventEnvelope{}
	case "REQ":
		v = &ReqEnvelope{}
	case "COUNT":
		v = &CountEnvelope{}
	case "NOTICE":
		x := NoticeEnvelope("")
		v = &x
	case "EOSE":
		x := EOSEEnvelope("")
		v = &x
	case "OK":
		v = &OKEnvelope{}
	case "AUTH":
		v = &AuthEnvelope{}
	case "CLOSED":
		v = &ClosedEnvelope{}
	case "CLOSE":
		x := CloseEnvelope("")
		v = &x
	case "NEG-OPEN":
		v = &NegOpenEnvelope{}
	case "NEG-MSG":
		v = &NegMessageEnvelope{}
	case "NEG-ERR":
		v = &NegErrorEnvelope{}
	case "NEG-CLOSE":
		v = &NegCloseEnvelope{}
	default:
		return nil, ErrUnknownLabel
	}

	if !gjson.Valid(message) {
		return nil, ErrInvalidEnvelope
	}

	if err := v.FromJSON(message); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidEnvelope, err)
	}

	return v, nil
}

// Envelope is the interface for all nostr message envelopes.
type Envelope interface {
	Label() string
	FromJSON(string) error
	MarshalJSON() ([]byte, error)
	String() string
}

var (
	_ Envelope = (*EventEnvelope)(nil)
	_ Envelope = (*ReqEnvelope)(nil)
	_ Envelope = (*CountEnvelope)(nil)
	_ Envelope = (*NoticeEnvelope)(nil)
	_ Envelope = (*EOSEEnvelope)(nil)
	_ Envelope = (*CloseEnvelope)(nil)
	_ Envelope = (*ClosedEnvelope)(nil)
	_ Envelope = (*OKEnvelope)(nil)
	_ Envelope = (*AuthEnvelope)(nil)
	_ Envelope = (*NegOpenEnvelope)(nil)
	_ Envelope = (*NegMessageEnvelope)(nil)
	_ Envelope = (*NegErrorEnvelope)(nil)
	_ Envelope = (*NegCloseEnvelope)(nil)
)

func envelopeString(v interface{ MarshalJSON() ([]byte, error) }) string {
	j, _ := v.MarshalJSON()
	return string(j)
}

func writeLabel(w *jwriter.Writer, label string) {
	w.RawString(`["`)
	w.RawString(label)
	w.RawString(`"`)
}

// EventEnvelope represents an EVENT message.
type EventEnvelope struct {
	SubscriptionID *string
	Event
}

func (EventEnvelope) Label() string    { return "EVENT" }
func (v EventEnvelope) String() string { return envelopeString(v) }

func (v *EventEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	switch len(arr) {
	case 2:
		return easyjson.Unmarshal([]byte(arr[1].Raw), &v.Event)
	case 3:
		subid := arr[1].Str
		v.SubscriptionID = &subid
		return easyjson.Unmarshal([]byte(arr[2].Raw), &v.Event)
	default:
		return fmt.Errorf("failed to decode EVENT envelope")
	}
}

func (v EventEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "EVENT")
	if v.SubscriptionID != nil {
		w.RawByte(',')
		w.String(*v.SubscriptionID)
	}
	w.RawByte(',')
	v.Event.MarshalEasyJSON(&w)
	w.RawByte(']')
	return w.BuildBytes()
}

// ReqEnvelope represents a REQ message.
type ReqEnvelope struct {
	SubscriptionID string
	Filters        []Filter
}

func (ReqEnvelope) Label() string    { return "REQ" }
func (v ReqEnvelope) String() string { return envelopeString(v) }

func (v *ReqEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode REQ envelope: missing filters")
	}
	v.SubscriptionID = arr[1].Str

	v.Filters = make([]Filter, len(arr)-2)
	for i, filterj := range arr[2:] {
		if err := easyjson.Unmarshal([]byte(filterj.Raw), &v.Filters[i]); err != nil {
			return fmt.Errorf("on filter: %w", err)
		}
	}

	return nil
}

func (v ReqEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "REQ")
	w.RawByte(',')
	w.String(v.SubscriptionID)
	for _, filter := range v.Filters {
		w.RawByte(',')
		filter.MarshalEasyJSON(&w)
	}
	w.RawByte(']')
	return w.BuildBytes()
}

// CountEnvelope represents a COUNT message, either the request (with filters) or the response (with a count).
type CountEnvelope struct {
	SubscriptionID string
	Filters        []Filter
	Count          *uint32
}

func (CountEnvelope) Label() string    { return "COUNT" }
func (v CountEnvelope) String() string { return envelopeString(v) }

func (v *CountEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode COUNT envelope: missing filters")
	}
	v.SubscriptionID = arr[1].Str

	if count := arr[2].Get("count"); len(arr) == 3 && count.Exists() {
		c := uint32(count.Uint())
		v.Count = &c
		return nil
	}

	v.Filters = make([]Filter, len(arr)-2)
	for i, filterj := range arr[2:] {
		if err := easyjson.Unmarshal([]byte(filterj.Raw), &v.Filters[i]); err != nil {
			return fmt.Errorf("on filter: %w", err)
		}
	}

	return nil
}

func (v CountEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "COUNT")
	w.RawByte(',')
	w.String(v.SubscriptionID)
	if v.Count != nil {
		w.RawString(`,{"count":`)
		w.RawString(strconv.FormatUint(uint64(*v.Count), 10))
		w.RawByte('}')
	} else {
		for _, filter := range v.Filters {
			w.RawByte(',')
			filter.MarshalEasyJSON(&w)
		}
	}
	w.RawByte(']')
	return w.BuildBytes()
}

// NoticeEnvelope represents a NOTICE message.
type NoticeEnvelope string

func (NoticeEnvelope) Label() string    { return "NOTICE" }
func (v NoticeEnvelope) String() string { return envelopeString(v) }

func (v *NoticeEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode NOTICE envelope")
	}
	*v = NoticeEnvelope(arr[1].Str)
	return nil
}

func (v NoticeEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "NOTICE")
	w.RawByte(',')
	w.String(string(v))
	w.RawByte(']')
	return w.BuildBytes()
}

// EOSEEnvelope represents an EOSE (End of Stored Events) message.
type EOSEEnvelope string

func (EOSEEnvelope) Label() string    { return "EOSE" }
func (v EOSEEnvelope) String() string { return envelopeString(v) }

func (v *EOSEEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode EOSE envelope")
	}
	*v = EOSEEnvelope(arr[1].Str)
	return nil
}

func (v EOSEEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "EOSE")
	w.RawByte(',')
	w.String(string(v))
	w.RawByte(']')
	return w.BuildBytes()
}

// CloseEnvelope represents a CLOSE message.
type CloseEnvelope string

func (CloseEnvelope) Label() string    { return "CLOSE" }
func (v CloseEnvelope) String() string { return envelopeString(v) }

func (v *CloseEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode CLOSE envelope")
	}
	*v = CloseEnvelope(arr[1].Str)
	return nil
}

func (v CloseEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "CLOSE")
	w.RawByte(',')
	w.String(string(v))
	w.RawByte(']')
	return w.BuildBytes()
}

// ClosedEnvelope represents a CLOSED message.
type ClosedEnvelope struct {
	SubscriptionID string
	Reason         string
}

func (ClosedEnvelope) Label() string    { return "CLOSED" }
func (v ClosedEnvelope) String() string { return envelopeString(v) }

func (v *ClosedEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode CLOSED envelope")
	}
	*v = ClosedEnvelope{
		SubscriptionID: arr[1].Str,
		Reason:         arr[2].Str,
	}
	return nil
}

func (v ClosedEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "CLOSED")
	w.RawByte(',')
	w.String(v.SubscriptionID)
	w.RawByte(',')
	w.String(v.Reason)
	w.RawByte(']')
	return w.BuildBytes()
}

// OKEnvelope represents an OK message.
type OKEnvelope struct {
	EventID ID
	OK      bool
	Reason  string
}

func (OKEnvelope) Label() string    { return "OK" }
func (v OKEnvelope) String() string { return envelopeString(v) }

func (v *OKEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 4 {
		return fmt.Errorf("failed to decode OK envelope: missing fields")
	}
	id, err := IDFromHex(arr[1].Str)
	if err != nil {
		return err
	}
	v.EventID = id
	v.OK = arr[2].Bool()
	v.Reason = arr[3].Str

	return nil
}

func (v OKEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "OK")
	w.RawString(`,"`)
	w.RawString(v.EventID.Hex())
	w.RawString(`",`)
	w.Bool(v.OK)
	w.RawByte(',')
	w.String(v.Reason)
	w.RawByte(']')
	return w.BuildBytes()
}

// AuthEnvelope represents an AUTH message, a challenge when coming from a relay and a signed
// event when coming from a client.
type AuthEnvelope struct {
	Challenge *string
	Event     Event
}

func (AuthEnvelope) Label() string    { return "AUTH" }
func (v AuthEnvelope) String() string { return envelopeString(v) }

func (v *AuthEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode Auth envelope: missing fields")
	}
	if arr[1].IsObject() {
		return easyjson.Unmarshal([]byte(arr[1].Raw), &v.Event)
	}
	challenge := arr[1].Str
	v.Challenge = &challenge
	return nil
}

func (v AuthEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "AUTH")
	w.RawByte(',')
	if v.Challenge != nil {
		w.String(*v.Challenge)
	} else {
		v.Event.MarshalEasyJSON(&w)
	}
	w.RawByte(']')
	return w.BuildBytes()
}
