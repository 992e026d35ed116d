package extraction

import (
	"context"
	"log/slog"
	"net/mail"
	"strings"
	"unicode"

	"golang.org/x/net/publicsuffix"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/zombor/invoice-extractor/internal/pattern"
)

const (
	// EnhancedVendorConfidence is assigned to vendors derived from the sender domain
	EnhancedVendorConfidence = 0.8
	// EnhancedInvoiceNumberConfidence is assigned to invoice numbers read from the subject
	EnhancedInvoiceNumberConfidence = 0.7
	// VendorEnhanceBelow is the vendor confidence under which the sender domain is consulted
	VendorEnhanceBelow = 0.7

	DefaultCurrency = "USD"
)

// PublicProviders are mail domains that say nothing about the vendor
var PublicProviders = map[string]bool{
	"gmail":      true,
	"googlemail": true,
	"yahoo":      true,
	"hotmail":    true,
	"outlook":    true,
	"live":       true,
	"msn":        true,
	"aol":        true,
	"icloud":     true,
	"me":         true,
	"protonmail": true,
	"proton":     true,
	"gmx":        true,
}

// MessageContext carries the auxiliary signals of the message an invoice arrived in
type MessageContext struct {
	EmailSubject string
	SenderEmail  string
}

// Enhancer fills gaps left by the engine from message context. It only adds
// provenance records and never replaces a value that is already present.
type Enhancer struct {
	engine *Engine
	// DefaultCurrency is assumed when no currency was found. Empty disables
	// the default.
	DefaultCurrency string
}

// NewEnhancer creates an enhancer that reuses engine's rule matching
func NewEnhancer(engine *Engine) *Enhancer {
	return &Enhancer{engine: engine, DefaultCurrency: DefaultCurrency}
}

// Enhance returns a copy of data with context-derived fields added
func (en *Enhancer) Enhance(ctx context.Context, snap *pattern.Snapshot, data *InvoiceData, c MessageContext) (*InvoiceData, error) {
	out := data.clone()

	if !out.Has(FieldVendorName) || out.Confidence(FieldVendorName) < VendorEnhanceBelow {
		if name, ok := VendorFromEmail(c.SenderEmail); ok {
			e := FieldExtraction{
				Field:      FieldVendorName,
				Value:      name,
				Confidence: EnhancedVendorConfidence,
				SourceText: strings.TrimSpace(c.SenderEmail),
				Method:     MethodEmailEnhancement,
			}
			switch {
			case !out.Has(FieldVendorName):
				out.VendorName = &name
				out.Extractions = append(out.Extractions, e)
				slog.Debug("Vendor derived from sender", "vendor", name)
			case corroborates(*out.VendorName, name):
				// the sender backs the extracted vendor; its value stays
				e.Value = *out.VendorName
				out.Extractions = append(out.Extractions, e)
				slog.Debug("Vendor corroborated by sender", "vendor", e.Value)
			default:
				slog.Debug("Sender domain disagrees with extracted vendor", "vendor", *out.VendorName, "sender", name)
			}
		}
	}

	if !out.Has(FieldInvoiceNumber) && strings.TrimSpace(c.EmailSubject) != "" && snap != nil {
		h := handlers[pattern.InvoiceNumber]
		subject := []line{{no: 0, text: c.EmailSubject}}
		cand, err := en.engine.selectCandidate(ctx, h, snap.RulesFor(pattern.InvoiceNumber), subject, en.engine.Now())
		if err != nil {
			return nil, err
		}
		if cand != nil {
			e := cand.extraction
			e.Confidence = EnhancedInvoiceNumberConfidence
			e.Method = MethodEmailEnhancement
			out.Extractions = append(out.Extractions, e)
			value := e.Value
			out.InvoiceNumber = &value
			slog.Debug("Invoice number read from subject", "invoice_number", value)
		}
	}

	if !out.Has(FieldCurrency) && en.DefaultCurrency != "" {
		code := en.DefaultCurrency
		out.Currency = &code
	}

	return out, nil
}

// corroborates reports whether a sender-derived name names the same
// business as the extracted vendor, ignoring case, spacing and punctuation
func corroborates(vendor, derived string) bool {
	v, d := squashName(vendor), squashName(derived)
	if v == "" || d == "" {
		return false
	}
	return strings.Contains(v, d) || strings.Contains(d, v)
}

func squashName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// VendorFromEmail turns a sender address into a display name from its
// registrable domain, e.g. billing@mail.acme-supplies.co.uk gives
// "Acme Supplies". Public mail providers yield nothing.
func VendorFromEmail(sender string) (string, bool) {
	sender = strings.TrimSpace(sender)
	if sender == "" {
		return "", false
	}
	if addr, err := mail.ParseAddress(sender); err == nil {
		sender = addr.Address
	}
	label, ok := RegistrableLabel(sender)
	if !ok || PublicProviders[label] {
		return "", false
	}

	words := strings.FieldsFunc(label, func(r rune) bool { return r == '-' || r == '_' })
	if len(words) == 0 {
		return "", false
	}
	return cases.Title(language.English).String(strings.Join(words, " ")), true
}

// RegistrableLabel returns the first label of the registrable domain of an
// email address, e.g. "acme" for ap@billing.acme.com
func RegistrableLabel(email string) (string, bool) {
	at := strings.LastIndex(email, "@")
	if at < 0 || at == len(email)-1 {
		return "", false
	}
	domain := strings.ToLower(strings.TrimSuffix(strings.TrimSpace(email[at+1:]), "."))
	registrable, err := publicsuffix.EffectiveTLDPlusOne(domain)
	if err != nil {
		return "", false
	}
	label, _, _ := strings.Cut(registrable, ".")
	return label, label != ""
}
