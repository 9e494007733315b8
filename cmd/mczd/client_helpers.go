// cmd/mczd/client_helpers.go
//
// The namespaces/config/stats/sampler subcommands are thin HTTP clients
// against a running `mczd serve` control surface, never reimplementing
// its logic locally.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

func fetchRaw(addr, path string) ([]byte, error) {
	resp, err := httpClient.Get(addr + path)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return readRespBody(path, resp)
}

func postRaw(addr, path string) ([]byte, error) {
	resp, err := httpClient.Post(addr+path, "application/json", nil)
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()
	return readRespBody(path, resp)
}

func readRespBody(path string, resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("%s: http %d: %s", path, resp.StatusCode, string(body))
	}
	return body, nil
}

func printRawJSON(body []byte) {
	var pretty interface{}
	if err := json.Unmarshal(body, &pretty); err != nil {
		fmt.Println(string(body))
		return
	}
	b, err := json.MarshalIndent(pretty, "", "  ")
	if err != nil {
		fmt.Println(string(body))
		return
	}
	fmt.Println(string(b))
}

// printPlain writes a plain-text control-surface response as-is; the
// server already renders it one key=value pair per line.
func printPlain(body []byte) {
	fmt.Print(string(body))
}

// withFormat appends ?format=json to path when asJSON is set, else
// leaves the plain-text default untouched.
func withFormat(path string, asJSON bool) string {
	if !asJSON {
		return path
	}
	if strings.Contains(path, "?") {
		return path + "&format=json"
	}
	return path + "?format=json"
}

const defaultServeAddr = "http://127.0.0.1:8077"
