package dialog

import (
	"bytes"
	_ "embed"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"gopkg.in/yaml.v3"
)

//go:embed messages.yaml
var defaultCatalogYAML []byte

// Key names a logical message in the catalog.
type Key string

const (
	MsgWaterConfirm           Key = "water.confirm"
	MsgWaterFallback          Key = "water.fallback"
	MsgElectricConfirm        Key = "electric.confirm"
	MsgElectricFallback       Key = "electric.fallback"
	MsgAskCustomerID          Key = "claim.ask_customer_id"
	MsgHowCanIHelp            Key = "claim.how_can_i_help"
	MsgAuthAskCustomerID      Key = "auth.ask_customer_id"
	MsgAuthNotFound           Key = "auth.not_found"
	MsgAuthCRMError           Key = "auth.crm_error"
	MsgAuthAskBirth           Key = "auth.ask_birth"
	MsgVerifyMismatch         Key = "verify.mismatch"
	MsgVerifyError            Key = "verify.error"
	MsgVerifyKindMissing      Key = "verify.claim_kind_missing"
	MsgVerifyNotCovered       Key = "verify.not_covered"
	MsgVerifyExistingCase     Key = "verify.existing_case"
	MsgAlright                Key = "followup.alright"
	MsgAddressConfirm         Key = "address.confirm"
	MsgAddressMissing         Key = "address.missing"
	MsgAddressOtherProperty   Key = "address.other_property"
	MsgClaimMissingCaseData   Key = "claim.missing_case_data"
	MsgClaimMissingKind       Key = "claim.missing_kind"
	MsgClaimCreateError       Key = "claim.create_error"
	MsgClaimUpdateError       Key = "claim.update_error"
	MsgClaimCRMConnectError   Key = "claim.crm_connect_error"
	MsgProfessionalsOffer     Key = "claim.professionals_offer"
	MsgClaimCreated           Key = "claim.created"
	MsgListConfirmed          Key = "list.confirmed"
	MsgListDeclined           Key = "list.declined"
	MsgChildOffer             Key = "wrapup.child_offer"
	MsgCallbackAskDateTime    Key = "callback.ask_datetime"
	MsgCallbackThanks         Key = "callback.thanks"
	MsgAnythingElse           Key = "anything.ask"
	MsgFallback               Key = "fallback.default"
	MsgCaseSubjectWater       Key = "case.subject.water"
	MsgCaseSubjectElectric    Key = "case.subject.electric"
	MsgCaseDescription        Key = "case.description"
	MsgCaseUpdateLine         Key = "case.update_line"
	MsgCaseUpdateKindWater    Key = "case.update_kind.water"
	MsgCaseUpdateKindElectric Key = "case.update_kind.electric"
)

// Message is one logical message in every language it exists in.
type Message map[string]string

// Select returns the text for lang. A missing language is an error rather than
// a silent fallback to another language.
func (m Message) Select(lang string) (string, error) {
	if text, ok := m[lang]; ok {
		return text, nil
	}
	if base := baseLanguage(lang); base != lang {
		if text, ok := m[base]; ok {
			return text, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
}

// Catalog holds the parsed message templates.
type Catalog struct {
	languages []string
	entries   map[Key]map[string]*template.Template
}

// DefaultCatalog loads the embedded catalog. It panics on a malformed file
// since that is a build defect, not a runtime condition.
func DefaultCatalog() *Catalog {
	c, err := LoadCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return c
}

// LoadCatalog parses a YAML catalog and checks every entry carries the same
// language set.
func LoadCatalog(data []byte) (*Catalog, error) {
	var raw map[string]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("dialog: parse catalog: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("dialog: catalog is empty")
	}

	c := &Catalog{entries: make(map[Key]map[string]*template.Template, len(raw))}
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		texts := raw[key]
		langs := sortedLanguages(texts)
		if c.languages == nil {
			c.languages = langs
		} else if strings.Join(langs, ",") != strings.Join(c.languages, ",") {
			return nil, fmt.Errorf("dialog: catalog entry %q has languages %v, want %v", key, langs, c.languages)
		}
		tmpls := make(map[string]*template.Template, len(texts))
		for lang, text := range texts {
			t, err := template.New(key + "." + lang).Option("missingkey=error").Parse(text)
			if err != nil {
				return nil, fmt.Errorf("dialog: parse %s/%s: %w", key, lang, err)
			}
			tmpls[lang] = t
		}
		c.entries[Key(key)] = tmpls
	}
	return c, nil
}

// Languages returns the languages every entry is available in.
func (c *Catalog) Languages() []string {
	out := make([]string, len(c.languages))
	copy(out, c.languages)
	return out
}

// Supports reports whether messages can be selected for lang.
func (c *Catalog) Supports(lang string) bool {
	_, ok := c.Resolve(lang)
	return ok
}

// Resolve returns the catalog language Select uses for lang. It differs from
// lang when a regional code is served by its base language.
func (c *Catalog) Resolve(lang string) (string, bool) {
	probe := make(Message, len(c.languages))
	for _, l := range c.languages {
		probe[l] = l
	}
	resolved, err := probe.Select(lang)
	return resolved, err == nil
}

// Message renders key in every catalog language.
func (c *Catalog) Message(key Key, data any) (Message, error) {
	return c.MessageEach(key, func(string) any { return data })
}

// MessageEach renders key in every catalog language with data chosen per
// language, for values such as dates that are themselves localized.
func (c *Catalog) MessageEach(key Key, data func(lang string) any) (Message, error) {
	tmpls, ok := c.entries[key]
	if !ok {
		return nil, fmt.Errorf("dialog: unknown message %q", key)
	}
	msg := make(Message, len(tmpls))
	for lang, t := range tmpls {
		var buf bytes.Buffer
		if err := t.Execute(&buf, data(lang)); err != nil {
			return nil, fmt.Errorf("dialog: render %s/%s: %w", key, lang, err)
		}
		msg[lang] = buf.String()
	}
	return msg, nil
}

// Render renders key for a single language.
func (c *Catalog) Render(key Key, lang string, data any) (string, error) {
	msg, err := c.Message(key, data)
	if err != nil {
		return "", err
	}
	return msg.Select(lang)
}

func sortedLanguages(texts map[string]string) []string {
	langs := make([]string, 0, len(texts))
	for lang := range texts {
		langs = append(langs, lang)
	}
	sort.Strings(langs)
	return langs
}

func baseLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if idx := strings.IndexAny(lang, "-_"); idx > 0 {
		return lang[:idx]
	}
	return lang
}
