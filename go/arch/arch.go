package arch

import (
	"regexp"
	"strings"

	"github.com/pkg/errors"

	"github.com/halcorn/halcorn/go/arch/avr8"
	"github.com/halcorn/halcorn/go/arch/cortexm"
	"github.com/halcorn/halcorn/go/models"
)

type matcher struct {
	re      *regexp.Regexp
	arch    models.Arch
	profile *models.Profile
}

// matched in order; the first hit wins
var archList []matcher

func Register(pattern string, p *models.Profile) {
	archList = append(archList, matcher{regexp.MustCompile(pattern), p.Arch, p})
}

func init() {
	Register(`.*cortexm|.*cortex\-m.*|.*v7\-m.*`, cortexm.Profile)
	Register(`avr.*|atmega.*`, avr8.Profile)
}

// Find resolves a configuration architecture string.
func Find(name string) (models.Arch, *models.Profile) {
	lower := strings.ToLower(name)
	for _, m := range archList {
		if loc := m.re.FindStringIndex(lower); loc != nil && loc[0] == 0 {
			return m.arch, m.profile
		}
	}
	return models.Unknown, nil
}

// Get is Find with Unknown treated as an error.
func Get(name string) (*models.Profile, error) {
	if name == "" {
		return nil, errors.Wrap(models.ErrUnknownArch, "architecture not specified (try 'architecture: cortexm')")
	}
	a, p := Find(name)
	if a == models.Unknown {
		return nil, errors.Wrapf(models.ErrUnknownArch, "'%s'", name)
	}
	return p, nil
}
