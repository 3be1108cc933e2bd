package telemetry

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/nvandessel/abm/internal/models"
)

// Decode reads CSV telemetry, skipping header lines, and returns the records
// in input order.
func Decode(r io.Reader) ([]Tallies, []Totals, error) {
	var tallies []Tallies
	var totals []Totals

	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Split(line, ",")
		if len(fields) < 4 {
			return nil, nil, fmt.Errorf("line %d: too few fields", lineNum)
		}
		if fields[2] == "Sim" {
			continue // header
		}
		replicate, iteration, err := parseKey(fields)
		if err != nil {
			return nil, nil, fmt.Errorf("line %d: %w", lineNum, err)
		}

		switch fields[0] {
		case TalliesTag:
			if len(fields) != 4+models.NumStates {
				return nil, nil, fmt.Errorf("line %d: tallies record has %d fields", lineNum, len(fields))
			}
			t := Tallies{Name: fields[1], Replicate: replicate, Iteration: iteration}
			for i := range t.Counts {
				if t.Counts[i], err = strconv.Atoi(fields[4+i]); err != nil {
					return nil, nil, fmt.Errorf("line %d: count %d: %w", lineNum, i, err)
				}
			}
			tallies = append(tallies, t)
		case TotalsTag:
			if len(fields) != 6 {
				return nil, nil, fmt.Errorf("line %d: totals record has %d fields", lineNum, len(fields))
			}
			t := Totals{Name: fields[1], Replicate: replicate, Iteration: iteration}
			if t.Infections, err = strconv.Atoi(fields[4]); err != nil {
				return nil, nil, fmt.Errorf("line %d: infections: %w", lineNum, err)
			}
			if t.Vaccinations, err = strconv.Atoi(fields[5]); err != nil {
				return nil, nil, fmt.Errorf("line %d: vaccinations: %w", lineNum, err)
			}
			totals = append(totals, t)
		default:
			return nil, nil, fmt.Errorf("line %d: unknown record tag %q", lineNum, fields[0])
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("reading telemetry: %w", err)
	}
	return tallies, totals, nil
}

func parseKey(fields []string) (int, int, error) {
	replicate, err := strconv.Atoi(fields[2])
	if err != nil {
		return 0, 0, fmt.Errorf("replicate: %w", err)
	}
	iteration, err := strconv.Atoi(fields[3])
	if err != nil {
		return 0, 0, fmt.Errorf("iteration: %w", err)
	}
	return replicate, iteration, nil
}
