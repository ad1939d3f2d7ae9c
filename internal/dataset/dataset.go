// Package dataset discovers real content on the target so parametrized
// endpoints hit IDs that exist.
package dataset

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// ItemTypeForm marks items that carry a form.
const ItemTypeForm = "FORM"

// FormQuestion is one question of the discovered form. FirstOptionID is
// empty for free-text questions.
type FormQuestion struct {
	ID            string `json:"id"`
	FirstOptionID string `json:"first_option_id,omitempty"`
}

// Dataset holds the discovered IDs. Zero values mean the target had no
// such content; it is read-only once hydrated.
type Dataset struct {
	TrailID             string         `json:"trail_id,omitempty"`
	SectionID           string         `json:"section_id,omitempty"`
	ItemID              string         `json:"item_id,omitempty"`
	ItemType            string         `json:"item_type,omitempty"`
	ItemDurationSeconds int            `json:"item_duration_seconds,omitempty"`
	FormItemID          string         `json:"form_item_id,omitempty"`
	FormQuestions       []FormQuestion `json:"form_questions,omitempty"`
}

// Has reports whether field is present. Field names follow the dotted
// requirement paths used by endpoint definitions ("trailId", ...).
func (d *Dataset) Has(field string) bool {
	if d == nil {
		return false
	}
	switch field {
	case "trailId":
		return d.TrailID != ""
	case "sectionId":
		return d.SectionID != ""
	case "itemId":
		return d.ItemID != ""
	case "itemType":
		return d.ItemType != ""
	case "itemDurationSeconds":
		return d.ItemDurationSeconds != 0
	case "formItemId":
		return d.FormItemID != ""
	case "formQuestions":
		return d.FormQuestions != nil
	default:
		return false
	}
}

// ID is a backend identifier that may be encoded as a JSON string or number.
type ID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

type trail struct {
	ID ID `json:"id"`
}

type trailList struct {
	Trails []trail `json:"trails"`
}

type item struct {
	ID              ID     `json:"id"`
	Type            string `json:"type"`
	DurationSeconds any    `json:"duration_seconds"`
}

type section struct {
	ID    ID     `json:"id"`
	Items []item `json:"items"`
}

type itemDetail struct {
	Form *struct {
		Questions []struct {
			ID      ID `json:"id"`
			Options []struct {
				ID ID `json:"id"`
			} `json:"options"`
		} `json:"questions"`
	} `json:"form"`
}

// seconds reads a duration that may be a number or a numeric string.
func seconds(v any) int {
	switch n := v.(type) {
	case float64:
		return int(n)
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return int(f)
	default:
		return 0
	}
}
