package identify

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Identifier keys attached to a result.
const (
	KeyVIN           = "vin"
	KeyISBN          = "isbn"
	KeyBarcode       = "barcode"
	KeyUPC           = "upc"
	KeyCardNumber    = "card_number"
	KeyCatalogNumber = "catalog_number"
	KeyCertNumber    = "cert_number"
	KeySetNumber     = "set_number"
)

// Identifiers maps identifier keys to values.
type Identifiers map[string]string

// explicitKeys maps raw field names, lowercased with separators removed, onto
// identifier keys.
var explicitKeys = map[string]string{
	"catalognumber": KeyCatalogNumber,
	"catalogno":     KeyCatalogNumber,
	"kmnumber":      KeyCatalogNumber,
	"certnumber":    KeyCertNumber,
	"certificate":   KeyCertNumber,
	"upc":           KeyUPC,
	"barcode":       KeyBarcode,
	"ean":           KeyBarcode,
	"gtin":          KeyBarcode,
	"isbn":          KeyISBN,
	"setnumber":     KeySetNumber,
	"vin":           KeyVIN,
	"cardnumber":    KeyCardNumber,
}

var (
	vinRe    = regexp.MustCompile(`\b[A-HJ-NPR-Z0-9]{17}\b`)
	isbnRe   = regexp.MustCompile(`\b\d[\d-]{8,16}[\dX]\b`)
	cardRe   = regexp.MustCompile(`\b(\d{1,3})\s*/\s*(\d{1,3})\b`)
	digitsRe = regexp.MustCompile(`\d`)
)

// minCardSetSize is the smallest set total accepted in an "N/M" card number.
const minCardSetSize = 20

// maxWalkDepth bounds how deep nested payloads are scanned.
const maxWalkDepth = 4

// ExtractIdentifiers scans the raw provider payload and the identified name
// for VINs, ISBN-10/13 numbers, "N/M" card numbers and explicit catalog
// fields. Explicit fields win over pattern matches.
func ExtractIdentifiers(raw map[string]any, name string) Identifiers {
	ids := Identifiers{}

	var texts []string
	if name != "" {
		texts = append(texts, name)
	}
	walk(raw, 0, func(key string, value string, numeric bool) {
		id, explicit := explicitKeys[normalizeKey(key)]
		if explicit {
			if _, seen := ids[id]; !seen {
				ids[id] = cleanIdentifier(id, value)
			}
		}
		// Numbers outside identifier fields are prices and scores.
		if numeric && !explicit {
			return
		}
		texts = append(texts, value)
	})

	for _, text := range texts {
		scanText(ids, text)
	}
	return ids
}

func scanText(ids Identifiers, text string) {
	if _, ok := ids[KeyVIN]; !ok {
		for _, m := range vinRe.FindAllString(text, -1) {
			if len(digitsRe.FindAllString(m, -1)) >= 3 {
				ids[KeyVIN] = m
				break
			}
		}
	}

	if _, ok := ids[KeyISBN]; !ok {
		for _, m := range isbnRe.FindAllString(text, -1) {
			digits := strings.ReplaceAll(m, "-", "")
			switch {
			case len(digits) == 10:
				ids[KeyISBN] = digits
			case len(digits) == 13 && (strings.HasPrefix(digits, "978") || strings.HasPrefix(digits, "979")):
				ids[KeyISBN] = digits
			case len(digits) == 13 && !strings.Contains(m, "-"):
				if _, ok := ids[KeyBarcode]; !ok {
					ids[KeyBarcode] = digits
				}
				continue
			default:
				continue
			}
			break
		}
	}

	if _, ok := ids[KeyCardNumber]; !ok {
		for _, m := range cardRe.FindAllStringSubmatch(text, -1) {
			// Ratings like 4/5 or 8/10 are not set sizes.
			if total, _ := strconv.Atoi(m[2]); total >= minCardSetSize {
				ids[KeyCardNumber] = m[1] + "/" + m[2]
				break
			}
		}
	}
}

// walk visits scalar values in raw in key order.
func walk(raw map[string]any, depth int, visit func(key, value string, numeric bool)) {
	if depth > maxWalkDepth {
		return
	}
	keys := make([]string, 0, len(raw))
	for k := range raw {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		switch v := raw[k].(type) {
		case map[string]any:
			walk(v, depth+1, visit)
		case []any:
			for _, item := range v {
				switch iv := item.(type) {
				case map[string]any:
					walk(iv, depth+1, visit)
				case string:
					visit(k, iv, false)
				}
			}
		case string:
			if s := strings.TrimSpace(v); s != "" {
				visit(k, s, false)
			}
		case float64:
			visit(k, fmt.Sprintf("%.0f", v), true)
		}
	}
}

func normalizeKey(k string) string {
	k = strings.ToLower(k)
	return strings.NewReplacer("_", "", "-", "", " ", "", ".", "").Replace(k)
}

func cleanIdentifier(key, value string) string {
	value = strings.TrimSpace(value)
	switch key {
	case KeyISBN, KeyBarcode, KeyUPC:
		return strings.NewReplacer("-", "", " ", "").Replace(value)
	case KeyVIN:
		return strings.ToUpper(value)
	}
	return value
}
