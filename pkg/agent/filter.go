package agent

import (
	"fmt"
	"regexp"
	"strings"
)

// interfaceFilter implements the allow/exclude lists of the configuration.
// An interface is captured if it matches the allowed entries (all, when the
// list is empty) and none of the excluded ones. Entries enclosed in slashes
// are compiled as regular expressions.
type interfaceFilter struct {
	allowedRegexpes  []*regexp.Regexp
	allowedMatches   []string
	excludedRegexpes []*regexp.Regexp
	excludedMatches  []string
}

func initInterfaceFilter(allowed, excluded []string) (interfaceFilter, error) {
	var isRegexp = regexp.MustCompile("^/(.*)/$")

	itf := interfaceFilter{}
	for _, definition := range allowed {
		definition = strings.Trim(definition, " ")
		// the user defined a /regexp/ between slashes: compile and store it
		if sm := isRegexp.FindStringSubmatch(definition); len(sm) > 1 {
			re, err := regexp.Compile(sm[1])
			if err != nil {
				return itf, fmt.Errorf("wrong allowed interface definition %q: %w", definition, err)
			}
			itf.allowedRegexpes = append(itf.allowedRegexpes, re)
		} else {
			// otherwise, store it as a plain string
			itf.allowedMatches = append(itf.allowedMatches, definition)
		}
	}
	for _, definition := range excluded {
		definition = strings.Trim(definition, " ")
		if sm := isRegexp.FindStringSubmatch(definition); len(sm) > 1 {
			re, err := regexp.Compile(sm[1])
			if err != nil {
				return itf, fmt.Errorf("wrong excluded interface definition %q: %w", definition, err)
			}
			itf.excludedRegexpes = append(itf.excludedRegexpes, re)
		} else {
			itf.excludedMatches = append(itf.excludedMatches, definition)
		}
	}
	return itf, nil
}

func (itf *interfaceFilter) Allowed(name string) bool {
	// if the allowed list is empty, any interface is allowed except if it matches the exclusion list
	allowed := len(itf.allowedMatches)+len(itf.allowedRegexpes) == 0
	for i := 0; !allowed && i < len(itf.allowedMatches); i++ {
		allowed = name == itf.allowedMatches[i]
	}
	for i := 0; !allowed && i < len(itf.allowedRegexpes); i++ {
		allowed = itf.allowedRegexpes[i].MatchString(name)
	}
	if !allowed {
		return false
	}
	for _, match := range itf.excludedMatches {
		if name == match {
			return false
		}
	}
	for _, re := range itf.excludedRegexpes {
		if re.MatchString(name) {
			return false
		}
	}
	return true
}
