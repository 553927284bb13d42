package registry

import (
	"GameLedger/internal/apperr"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// MaxAttributeValue is the upper bound for rarity and skill.
const MaxAttributeValue = 100

// Attributes are fixed at mint time and never change.
type Attributes struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	URI         string `json:"uri"`
	Rarity      uint8  `json:"rarity"`
	Skill       uint8  `json:"skill"`
}

var (
	cidPattern          = regexp.MustCompile(`^[A-Za-z0-9]{46,128}(/[A-Za-z0-9._\-/]*)?$`)
	arweaveTxPattern    = regexp.MustCompile(`^[A-Za-z0-9_-]{43}(/[A-Za-z0-9._\-/]*)?$`)
	collectionNameRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
)

// ValidateAttributes checks rarity, skill and name.
func ValidateAttributes(a Attributes) error {
	if strings.TrimSpace(a.Name) == "" {
		return apperr.New(apperr.CodeInvalidAttribute, "asset name is required")
	}
	if _, err := AttributeLevel("rarity", int(a.Rarity)); err != nil {
		return err
	}
	if _, err := AttributeLevel("skill", int(a.Skill)); err != nil {
		return err
	}
	return ValidateURI(a.URI)
}

// AttributeLevel narrows a rarity or skill value taken from a request.
// Values outside 0..MaxAttributeValue are INVALID_ATTRIBUTE.
func AttributeLevel(field string, v int) (uint8, error) {
	if v < 0 || v > MaxAttributeValue {
		return 0, apperr.WithMetadata(apperr.CodeInvalidAttribute, field+" out of range",
			map[string]string{field: strconv.Itoa(v), "max": strconv.Itoa(MaxAttributeValue)})
	}
	return uint8(v), nil
}

// ValidateURI accepts content-addressed metadata locations:
// ipfs://<cid>, ar://<txid> and https://<host>/ipfs/<cid>.
func ValidateURI(raw string) error {
	invalid := func(reason string) error {
		return apperr.WithMetadata(apperr.CodeInvalidURI, reason, map[string]string{"uri": raw})
	}

	u, err := url.Parse(raw)
	if err != nil || raw == "" {
		return invalid("uri is not parseable")
	}

	switch u.Scheme {
	case "ipfs":
		if !cidPattern.MatchString(u.Host + u.Path) {
			return invalid("ipfs uri must name a content id")
		}
	case "ar":
		if !arweaveTxPattern.MatchString(u.Host + u.Path) {
			return invalid("ar uri must name a transaction id")
		}
	case "https":
		if u.Host == "" || !strings.HasPrefix(u.Path, "/ipfs/") {
			return invalid("https uri must be an ipfs gateway path")
		}
		if !cidPattern.MatchString(strings.TrimPrefix(u.Path, "/ipfs/")) {
			return invalid("gateway uri must name a content id")
		}
	default:
		return invalid("unsupported uri scheme")
	}
	return nil
}

// ValidateCollectionName allows lowercase slugs so names are safe in
// message subjects and URL paths.
func ValidateCollectionName(name string) error {
	if !collectionNameRegex.MatchString(name) {
		return apperr.WithMetadata(apperr.CodeInvalidArgument,
			"collection name must be a lowercase slug of at most 64 characters", map[string]string{"name": name})
	}
	return nil
}
