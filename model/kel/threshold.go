package kel

import (
	"fmt"
	"math/big"
	"strconv"
	"strings"
)

// Threshold is a signing or rotation threshold. It is either an unweighted
// M-of-N count, or one fractional weight per member (in member order) together
// with the aggregate weight required to satisfy it.
type Threshold struct {
	Count    uint64
	Weights  []string
	Required string
}

// CountThreshold returns an unweighted M-of-N threshold.
func CountThreshold(m uint64) Threshold {
	return Threshold{Count: m}
}

// WeightedThreshold returns a weighted threshold requiring an aggregate weight of one.
func WeightedThreshold(weights ...string) Threshold {
	return Threshold{Weights: weights}
}

// ParseThreshold parses the threshold entered for a member list. A single
// integer entry yields an unweighted threshold, anything else is read as one
// weight per member. An empty required weight defaults to one.
func ParseThreshold(weights []string, required string) (Threshold, error) {
	if len(weights) == 1 && !strings.Contains(weights[0], "/") {
		m, err := strconv.ParseUint(weights[0], 10, 64)
		if err == nil {
			return CountThreshold(m), nil
		}
	}
	t := Threshold{Weights: weights, Required: required}
	for _, w := range weights {
		if _, err := parseWeight(w); err != nil {
			return Threshold{}, err
		}
	}
	if _, err := t.required(); err != nil {
		return Threshold{}, err
	}
	return t, nil
}

// IsWeighted returns true for fractionally weighted thresholds.
func (t Threshold) IsWeighted() bool {
	return len(t.Weights) > 0
}

// Validate checks that the threshold is well formed and satisfiable by a member
// list of the given size.
func (t Threshold) Validate(members int) error {
	if !t.IsWeighted() {
		if t.Count > uint64(members) {
			return fmt.Errorf("threshold %d exceeds member count %d", t.Count, members)
		}
		if members > 0 && t.Count == 0 {
			return fmt.Errorf("threshold must be positive for %d members", members)
		}
		return nil
	}

	if len(t.Weights) != members {
		return fmt.Errorf("got %d weights for %d members", len(t.Weights), members)
	}
	total := new(big.Rat)
	for _, w := range t.Weights {
		weight, err := parseWeight(w)
		if err != nil {
			return err
		}
		total.Add(total, weight)
	}
	required, err := t.required()
	if err != nil {
		return err
	}
	if total.Cmp(required) < 0 {
		return fmt.Errorf("total weight %s cannot reach required weight %s", total.RatString(), required.RatString())
	}
	return nil
}

// Satisfied returns true if the signers carry enough weight over the given
// member list. Signers that are not members are ignored, duplicates count once.
func (t Threshold) Satisfied(members PrefixList, signers PrefixList) (bool, error) {
	seen := make(map[int]struct{}, len(signers))
	for _, s := range signers {
		if i := members.Index(s); i >= 0 {
			seen[i] = struct{}{}
		}
	}

	if !t.IsWeighted() {
		return uint64(len(seen)) >= t.Count, nil
	}

	if len(t.Weights) != len(members) {
		return false, fmt.Errorf("got %d weights for %d members", len(t.Weights), len(members))
	}
	sum := new(big.Rat)
	for i := range seen {
		weight, err := parseWeight(t.Weights[i])
		if err != nil {
			return false, err
		}
		sum.Add(sum, weight)
	}
	required, err := t.required()
	if err != nil {
		return false, err
	}
	return sum.Cmp(required) >= 0, nil
}

func (t Threshold) String() string {
	if !t.IsWeighted() {
		return strconv.FormatUint(t.Count, 10)
	}
	s := "[" + strings.Join(t.Weights, ",") + "]"
	if t.Required != "" && t.Required != "1" {
		s += ">=" + t.Required
	}
	return s
}

func (t Threshold) required() (*big.Rat, error) {
	if t.Required == "" {
		return big.NewRat(1, 1), nil
	}
	r, err := parseWeight(t.Required)
	if err != nil {
		return nil, fmt.Errorf("invalid required weight: %w", err)
	}
	if r.Sign() <= 0 {
		return nil, fmt.Errorf("required weight must be positive, got %s", t.Required)
	}
	return r, nil
}

func parseWeight(w string) (*big.Rat, error) {
	r, ok := new(big.Rat).SetString(strings.TrimSpace(w))
	if !ok {
		return nil, fmt.Errorf("invalid weight %q", w)
	}
	if r.Sign() < 0 || r.Cmp(big.NewRat(1, 1)) > 0 {
		return nil, fmt.Errorf("weight %q out of range [0, 1]", w)
	}
	return r, nil
}

// EqualWeights returns the weight every member gets when a threshold is split
// evenly among n members.
func EqualWeights(n int) string {
	switch n {
	case 0:
		return "0"
	case 1:
		return "1"
	default:
		return fmt.Sprintf("1/%d", n)
	}
}

// EqualWeightThreshold returns an evenly weighted threshold over n members.
func EqualWeightThreshold(n int) Threshold {
	if n < 2 {
		return CountThreshold(uint64(n))
	}
	weights := make([]string, n)
	for i := range weights {
		weights[i] = EqualWeights(n)
	}
	return WeightedThreshold(weights...)
}

// recommendedToads maps a witness pool size to the recommended threshold of
// accountable duplicity.
var recommendedToads = []int{0, 1, 2, 2, 3, 4, 4, 5, 7, 7, 8}

// RecommendedToad returns the recommended receipt threshold for the given number
// of witnesses. The second value is false for pools larger than ten witnesses,
// for which no recommendation exists.
func RecommendedToad(witnesses int) (int, bool) {
	if witnesses < 0 || witnesses >= len(recommendedToads) {
		return 0, false
	}
	return recommendedToads[witnesses], true
}

// ParseToad parses a receipt threshold given either in decimal or in hex.
func ParseToad(s string) (int, error) {
	if v, err := strconv.Atoi(s); err == nil {
		return v, nil
	}
	v, err := strconv.ParseInt(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid toad value, not int or hex: %s", s)
	}
	return int(v), nil
}
