// Command backsolve runs the engine directly from a JSON payload,
// without the HTTP service: useful for batch valuation runs and for
// checking a request against the engine before wiring it upstream.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"opm_backsolve/pkg/core/backsolve"
)

func main() {
	mode := flag.String("mode", "single", "Mode: single or weighted")
	dataStr := flag.String("data", "", "JSON request payload")
	file := flag.String("file", "", "Path to a JSON request file (alternative to -data)")
	flag.Parse()

	payload := []byte(*dataStr)
	if *file != "" {
		raw, err := os.ReadFile(*file)
		if err != nil {
			fmt.Printf("Error reading %s: %v\n", *file, err)
			os.Exit(1)
		}
		payload = raw
	}
	if len(payload) == 0 {
		fmt.Println("Error: no request provided (use -data or -file)")
		os.Exit(1)
	}

	switch *mode {
	case "single":
		runSingle(payload)
	case "weighted":
		runWeighted(payload)
	default:
		fmt.Printf("Unknown mode: %s\n", *mode)
		os.Exit(1)
	}
}

func runSingle(payload []byte) {
	var req backsolve.Request
	if err := json.Unmarshal(payload, &req); err != nil {
		fmt.Printf("Error unmarshaling request: %v\n", err)
		os.Exit(1)
	}
	res, err := backsolve.Backsolve(&req)
	if err != nil {
		fmt.Printf("Backsolve failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(res)
	if !res.Converged {
		os.Exit(2)
	}
}

func runWeighted(payload []byte) {
	var req backsolve.WeightedRequest
	if err := json.Unmarshal(payload, &req); err != nil {
		fmt.Printf("Error unmarshaling request: %v\n", err)
		os.Exit(1)
	}
	res, err := backsolve.WeightedBacksolve(&req)
	if err != nil {
		fmt.Printf("Weighted backsolve failed: %v\n", err)
		os.Exit(1)
	}
	printJSON(res)
	if !res.Converged {
		os.Exit(2)
	}
}

func printJSON(v interface{}) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Printf("Error marshaling result: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
