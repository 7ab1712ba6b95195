// SPDX-FileCopyrightText: 2025 The PMCTrack Authors
// SPDX-License-Identifier: Apache-2.0

package eventset

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pmctrack/pmctrackd/internal/pmcerr"
)

// MaxConfigStringLength is the fixed upper bound on a raw configuration
// string (spec §6: "implementation-defined, >=128 bytes").
const MaxConfigStringLength = 512

// tokenRegex recognizes every token shape from spec §4.B's grammar table.
// Capture groups: 1=key, 2=index, 3=value (may be empty); a coretype token
// matches the second alternative instead, with 4="coretype" and 5=value.
var tokenRegex = regexp.MustCompile(`^(pmc|usr|os|umask|cmask|edge|inv|any|ebs)(\d+)(?:=(.+))?$|^(coretype)=(.+)$`)

// rawCounter accumulates the tokens seen for one physical/fixed counter
// index before it is turned into a LowLevelEvent.
type rawCounter struct {
	index      int
	hasValue   bool
	value      uint64
	usrSet     bool
	usr        bool
	osSet      bool
	os         bool
	umask      uint64
	cmask      uint64
	edge       uint64
	inv        uint64
	any        uint64
	ebsSet     bool
	ebsCount   uint64
	sawPMCTok  bool
}

// ParsedConfig is the result of parsing one raw configuration string: the
// set of counters it describes plus any restriction on core type.
type ParsedConfig struct {
	Counters []rawCounter
	CoreType int // -1 if unrestricted
}

// Parse parses a single comma-separated raw configuration string (spec
// §4.B). Unknown tokens, malformed tokens, or a string over
// MaxConfigStringLength fail with ConfigRejected. Repeated tokens for the
// same counter overwrite earlier ones (spec §6: "repeated tokens ...
// overwrite").
func Parse(raw string) (*ParsedConfig, error) {
	if len(raw) > MaxConfigStringLength {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Parse",
			fmt.Errorf("configuration string exceeds %d bytes", MaxConfigStringLength))
	}

	counters := map[int]*rawCounter{}
	order := []int{}
	coreType := -1

	for _, tok := range strings.Split(raw, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}

		m := tokenRegex.FindStringSubmatch(tok)
		if m == nil {
			return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Parse",
				fmt.Errorf("unrecognized token %q", tok))
		}

		if m[4] == "coretype" {
			ct, err := strconv.Atoi(m[5])
			if err != nil {
				return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Parse",
					fmt.Errorf("invalid coretype value %q", m[5]))
			}
			coreType = ct
			continue
		}

		key := m[1]
		idx, err := strconv.Atoi(m[2])
		if err != nil || idx < 0 || idx >= MaxPhysicalCounters {
			return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Parse",
				fmt.Errorf("counter index out of range in %q", tok))
		}
		val := m[3]

		rc, ok := counters[idx]
		if !ok {
			rc = &rawCounter{index: idx}
			counters[idx] = rc
			order = append(order, idx)
		}

		switch key {
		case "pmc":
			rc.sawPMCTok = true
			if val == "" {
				rc.hasValue = false
			} else {
				v, err := strconv.ParseUint(strings.TrimPrefix(val, "0x"), 16, 64)
				if err != nil {
					return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Parse",
						fmt.Errorf("invalid hex value in %q", tok))
				}
				rc.hasValue = true
				rc.value = v
			}
		case "usr":
			b, err := parseBit(val, tok)
			if err != nil {
				return nil, err
			}
			rc.usrSet, rc.usr = true, b
		case "os":
			b, err := parseBit(val, tok)
			if err != nil {
				return nil, err
			}
			rc.osSet, rc.os = true, b
		case "umask":
			rc.umask, err = parseUintField(val, tok)
		case "cmask":
			rc.cmask, err = parseUintField(val, tok)
		case "edge":
			rc.edge, err = parseUintField(val, tok)
		case "inv":
			rc.inv, err = parseUintField(val, tok)
		case "any":
			rc.any, err = parseUintField(val, tok)
		case "ebs":
			count, err2 := parseUintField(val, tok)
			if err2 != nil {
				return nil, err2
			}
			if count == 0 {
				return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Parse",
					fmt.Errorf("ebs count must be nonzero in %q", tok))
			}
			rc.ebsSet = true
			rc.ebsCount = count
			continue
		}
		if err != nil {
			return nil, err
		}
	}

	sort.Ints(order)
	result := make([]rawCounter, 0, len(order))
	for _, idx := range order {
		result = append(result, *counters[idx])
	}

	ebsSeen := 0
	for _, c := range result {
		if c.ebsSet {
			ebsSeen++
		}
	}
	if ebsSeen > 1 {
		return nil, pmcerr.New(pmcerr.ConfigRejected, "eventset.Parse",
			fmt.Errorf("at most one ebsN token is allowed per experiment"))
	}

	return &ParsedConfig{Counters: result, CoreType: coreType}, nil
}

func parseBit(val, tok string) (bool, error) {
	switch val {
	case "0":
		return false, nil
	case "1":
		return true, nil
	default:
		return false, pmcerr.New(pmcerr.ConfigRejected, "eventset.Parse",
			fmt.Errorf("expected 0 or 1 in %q", tok))
	}
}

func parseUintField(val, tok string) (uint64, error) {
	v, err := strconv.ParseUint(val, 0, 64)
	if err != nil {
		return 0, pmcerr.New(pmcerr.ConfigRejected, "eventset.Parse",
			fmt.Errorf("invalid numeric value in %q", tok))
	}
	return v, nil
}

// Serialize renders a ParsedConfig back to its normalized canonical
// string: the coretype token first (when set), then tokens grouped by
// ascending counter index, each group in the fixed key order pmc, usr,
// os, umask, cmask, edge, inv, any, ebs. Parsing the result and
// serializing it again yields the same string (spec §8.1).
func (p *ParsedConfig) Serialize() string {
	var parts []string
	if p.CoreType >= 0 {
		parts = append(parts, fmt.Sprintf("coretype=%d", p.CoreType))
	}
	for _, c := range p.Counters {
		if c.sawPMCTok {
			if c.hasValue {
				parts = append(parts, fmt.Sprintf("pmc%d=0x%x", c.index, c.value))
			} else {
				parts = append(parts, fmt.Sprintf("pmc%d", c.index))
			}
		}
		if c.usrSet {
			parts = append(parts, fmt.Sprintf("usr%d=%s", c.index, boolTok(c.usr)))
		}
		if c.osSet {
			parts = append(parts, fmt.Sprintf("os%d=%s", c.index, boolTok(c.os)))
		}
		if c.umask != 0 {
			parts = append(parts, fmt.Sprintf("umask%d=%d", c.index, c.umask))
		}
		if c.cmask != 0 {
			parts = append(parts, fmt.Sprintf("cmask%d=%d", c.index, c.cmask))
		}
		if c.edge != 0 {
			parts = append(parts, fmt.Sprintf("edge%d=%d", c.index, c.edge))
		}
		if c.inv != 0 {
			parts = append(parts, fmt.Sprintf("inv%d=%d", c.index, c.inv))
		}
		if c.any != 0 {
			parts = append(parts, fmt.Sprintf("any%d=%d", c.index, c.any))
		}
		if c.ebsSet {
			parts = append(parts, fmt.Sprintf("ebs%d=%d", c.index, c.ebsCount))
		}
	}
	return strings.Join(parts, ",")
}

func boolTok(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
