package nostr

import (
	"fmt"

	"github.com/mailru/easyjson"
	jwriter "github.com/mailru/easyjson/jwriter"
	"github.com/tidwall/gjson"
)

// NegOpenEnvelope starts a NIP-77 reconciliation with the initial message hex-encoded.
type NegOpenEnvelope struct {
	SubscriptionID string
	Filter         Filter
	Message        string
}

func (NegOpenEnvelope) Label() string    { return "NEG-OPEN" }
func (v NegOpenEnvelope) String() string { return envelopeString(v) }

func (v *NegOpenEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) != 4 {
		return fmt.Errorf("failed to decode NEG-OPEN envelope")
	}
	v.SubscriptionID = arr[1].Str
	v.Message = arr[3].Str
	return easyjson.Unmarshal([]byte(arr[2].Raw), &v.Filter)
}

func (v NegOpenEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "NEG-OPEN")
	w.RawByte(',')
	w.String(v.SubscriptionID)
	w.RawByte(',')
	v.Filter.MarshalEasyJSON(&w)
	w.RawByte(',')
	w.String(v.Message)
	w.RawByte(']')
	return w.BuildBytes()
}

type NegMessageEnvelope struct {
	SubscriptionID string
	Message        string
}

func (NegMessageEnvelope) Label() string    { return "NEG-MSG" }
func (v NegMessageEnvelope) String() string { return envelopeString(v) }

func (v *NegMessageEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode NEG-MSG envelope")
	}
	v.SubscriptionID = arr[1].Str
	v.Message = arr[2].Str
	return nil
}

func (v NegMessageEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "NEG-MSG")
	w.RawByte(',')
	w.String(v.SubscriptionID)
	w.RawByte(',')
	w.String(v.Message)
	w.RawByte(']')
	return w.BuildBytes()
}

type NegErrorEnvelope struct {
	SubscriptionID string
	Reason         string
}

func (NegErrorEnvelope) Label() string    { return "NEG-ERR" }
func (v NegErrorEnvelope) String() string { return envelopeString(v) }

func (v *NegErrorEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 3 {
		return fmt.Errorf("failed to decode NEG-ERR envelope")
	}
	v.SubscriptionID = arr[1].Str
	v.Reason = arr[2].Str
	return nil
}

func (v NegErrorEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "NEG-ERR")
	w.RawByte(',')
	w.String(v.SubscriptionID)
	w.RawByte(',')
	w.String(v.Reason)
	w.RawByte(']')
	return w.BuildBytes()
}

type NegCloseEnvelope struct {
	SubscriptionID string
}

func (NegCloseEnvelope) Label() string    { return "NEG-CLOSE" }
func (v NegCloseEnvelope) String() string { return envelopeString(v) }

func (v *NegCloseEnvelope) FromJSON(data string) error {
	arr := gjson.Parse(data).Array()
	if len(arr) < 2 {
		return fmt.Errorf("failed to decode NEG-CLOSE envelope")
	}
	v.SubscriptionID = arr[1].Str
	return nil
}

func (v NegCloseEnvelope) MarshalJSON() ([]byte, error) {
	w := jwriter.Writer{NoEscapeHTML: true}
	writeLabel(&w, "NEG-CLOSE")
	w.RawByte(',')
	w.String(v.SubscriptionID)
	w.RawByte(']')
	return w.BuildBytes()
}
