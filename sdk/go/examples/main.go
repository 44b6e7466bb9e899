// Command examples submits a goal to a running "autoagent serve" instance and
// waits for the result.
//
//	AUTOAGENT_URL=http://localhost:8080 go run ./sdk/go/examples "summarise README.md"
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"AutoAgent/sdk/go/autoagent"
)

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: examples <goal>")
		os.Exit(2)
	}
	baseURL := os.Getenv("AUTOAGENT_URL")
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	client, err := autoagent.NewClient(baseURL, nil)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	submitted, err := client.SubmitTask(ctx, autoagent.TaskRequest{Goal: strings.Join(os.Args[1:], " ")})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	fmt.Printf("submitted task %s (status=%s)\n", submitted.ID, submitted.Status)

	done, err := client.WaitForTask(ctx, submitted.ID, 2*time.Second)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if done.Result != nil {
		fmt.Println(done.Result.Message)
		return
	}
	fmt.Printf("task %s %s: %s\n", done.ID, done.Status, done.LastError)
}
