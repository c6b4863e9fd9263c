package cli

import (
	"bytes"
	"strings"
	"testing"

	"cohortq/internal/operations"

	"github.com/fatih/color"
)

func init() {
	color.NoColor = true
}

func TestPrintOperation(t *testing.T) {
	tests := []struct {
		name           string
		id             string
		expectedOutput []string
		notExpected    []string
	}{
		{
			name: "Required parameter",
			id:   "get-entity",
			expectedOutput: []string{
				"OPERATION: get-entity",
				"Default strategy: sequential",
				"Parameters:",
				"guid",
				"Required:    yes",
			},
			notExpected: []string{
				"property.<name>",
			},
		},
		{
			name: "Prefix and defaulted parameters",
			id:   "find-entities",
			expectedOutput: []string{
				"OPERATION: find-entities",
				"Default strategy: parallel",
				"property.<name>",
				"match-all",
				"Default:     false",
				"Default:     \"\"",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			op, err := operations.Resolve(tt.id)
			if err != nil {
				t.Fatalf("Resolve(%q): %v", tt.id, err)
			}
			buf := new(bytes.Buffer)
			printOperation(buf, op)
			output := buf.String()

			for _, exp := range tt.expectedOutput {
				if !strings.Contains(output, exp) {
					t.Errorf("Expected output to contain %q, but it didn't.\nOutput:\n%s", exp, output)
				}
			}
			for _, notExp := range tt.notExpected {
				if strings.Contains(output, notExp) {
					t.Errorf("Expected output NOT to contain %q, but it did.\nOutput:\n%s", notExp, output)
				}
			}
		})
	}
}

func TestOperationsListCmd(t *testing.T) {
	tests := []struct {
		name           string
		quiet          bool
		expectedOutput []string
		notExpected    []string
	}{
		{
			name:  "Default Output",
			quiet: false,
			expectedOutput: []string{
				"----------------------------------------",
				"OPERATION: find-entities",
				"OPERATION: get-entity",
				"OPERATION: get-relationships",
			},
		},
		{
			name:  "Quiet Output",
			quiet: true,
			expectedOutput: []string{
				"find-entities\nget-entity\nget-relationships\n",
			},
			notExpected: []string{
				"OPERATION:",
				"----------------------------------------",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			operationsListQuiet = tt.quiet
			defer func() { operationsListQuiet = false }()

			buf := new(bytes.Buffer)
			operationsListCmd.SetOut(buf)
			defer operationsListCmd.SetOut(nil)

			if err := operationsListCmd.RunE(operationsListCmd, []string{}); err != nil {
				t.Fatalf("RunE() error = %v", err)
			}

			output := buf.String()
			for _, exp := range tt.expectedOutput {
				if !strings.Contains(output, exp) {
					t.Errorf("Expected output to contain %q, but it didn't.\nOutput:\n%s", exp, output)
				}
			}
			for _, notExp := range tt.notExpected {
				if strings.Contains(output, notExp) {
					t.Errorf("Expected output NOT to contain %q, but it did.\nOutput:\n%s", notExp, output)
				}
			}
		})
	}
}

func TestOperationsShowCmd_Unknown(t *testing.T) {
	err := operationsShowCmd.RunE(operationsShowCmd, []string{"classify-entity"})
	if err == nil || !strings.Contains(err.Error(), "operation not found") {
		t.Fatalf("expected operation not found error, got %v", err)
	}
}
