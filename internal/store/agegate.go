package store

import (
	"net/url"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Birthdate submitted to the age check. Fixed so every mature title passes.
const (
	gateDay   = "1"
	gateMonth = "January"
	gateYear  = "1990"
)

// gateStep is a state of the fetch / age check machine in [Client.fetchApp].
type gateStep int

const (
	stepFetch gateStep = iota
	stepGateDetected
	stepSubmitGate
)

func (s gateStep) String() string {
	switch s {
	case stepFetch:
		return "fetch"
	case stepGateDetected:
		return "gate_detected"
	case stepSubmitGate:
		return "submit_gate"
	default:
		return "unknown"
	}
}

// Age check markers.
const (
	gateFormSelector     = "form#agecheck_form"
	gateSelectorSelector = "div.agegate_birthday_selector"
	gatePathFragment     = "/agecheck/"
)

// isGate reports whether a fetched page is the age check interstitial.
func isGate(doc *html.Node, landed *url.URL) bool {
	if landed != nil && strings.Contains(landed.Path, gatePathFragment) {
		return true
	}
	return querySelector(doc, gateFormSelector) != nil ||
		querySelector(doc, gateSelectorSelector) != nil
}

// gateForm is the submission derived from an interstitial page.
type gateForm struct {
	action *url.URL
	values url.Values
}

// buildGateForm collects the age check form's action and hidden inputs and
// fills in the birthdate. Pages that render the selector without a form
// post to <base>/agecheckset/app/<id>/, which is what the page script does.
func buildGateForm(doc *html.Node, landed, base *url.URL, id string, sessionID string) gateForm {
	f := gateForm{values: url.Values{}}

	if form := querySelector(doc, gateFormSelector); form != nil {
		if action := strings.TrimSpace(getAttr(form, "action")); action != "" {
			if u, err := url.Parse(action); err == nil {
				f.action = landed.ResolveReference(u)
			}
		}
		for _, in := range querySelectorAll(form, "input") {
			if in.DataAtom != atom.Input {
				continue
			}
			name := getAttr(in, "name")
			if name == "" || !strings.EqualFold(getAttr(in, "type"), "hidden") {
				continue
			}
			f.values.Set(name, getAttr(in, "value"))
		}
	}

	if f.action == nil {
		f.action = base.ResolveReference(&url.URL{Path: "/agecheckset/app/" + id + "/"})
	}
	if f.values.Get("sessionid") == "" && sessionID != "" {
		f.values.Set("sessionid", sessionID)
	}
	f.values.Set("ageDay", gateDay)
	f.values.Set("ageMonth", gateMonth)
	f.values.Set("ageYear", gateYear)
	return f
}
