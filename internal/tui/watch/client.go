package watch

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/terraflow/internal/events"
	"github.com/mattjoyce/terraflow/internal/registry"
)

// --- Message types ---

type eventMsg events.Event

type healthMsg struct {
	Status          string `json:"status"`
	Service         string `json:"service"`
	UptimeSeconds   int64  `json:"uptime_seconds"`
	ActiveTemplates int    `json:"active_templates"`
}

type statusMsg []registry.Record

type tickMsg time.Time

type errMsg error

type sseDisconnectedMsg struct{}
type reconnectMsg struct{}

// --- Commands ---

func newRequest(method, url, apiKey string) (*http.Request, error) {
	req, err := http.NewRequest(method, url, nil)
	if err != nil {
		return nil, err
	}
	if apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+apiKey)
	}
	return req, nil
}

// subscribeToEvents connects to the SSE /events endpoint and feeds events
// into the provided channel. Returns sseDisconnectedMsg when the
// connection drops.
func subscribeToEvents(apiURL, apiKey string, ch chan<- events.Event) tea.Cmd {
	return func() tea.Msg {
		req, err := newRequest("GET", apiURL+"/events", apiKey)
		if err != nil {
			return errMsg(err)
		}

		resp, err := (&http.Client{}).Do(req)
		if err != nil {
			return sseDisconnectedMsg{}
		}
		defer resp.Body.Close()

		scanner := bufio.NewScanner(resp.Body)
		var current struct {
			id   int64
			typ  string
			data string
		}

		for scanner.Scan() {
			line := scanner.Text()

			if line == "" {
				if current.data != "" {
					ch <- events.Event{
						ID:   current.id,
						Type: current.typ,
						At:   time.Now(),
						Data: []byte(current.data),
					}
					current.id, current.typ, current.data = 0, "", ""
				}
				continue
			}

			switch {
			case strings.HasPrefix(line, "id: "):
				if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
					current.id = id
				}
			case strings.HasPrefix(line, "event: "):
				current.typ = line[7:]
			case strings.HasPrefix(line, "data: "):
				current.data = line[6:]
			}
		}

		return sseDisconnectedMsg{}
	}
}

// receiveNextEvent waits for the next event from the channel.
func receiveNextEvent(ch <-chan events.Event) tea.Cmd {
	return func() tea.Msg {
		return eventMsg(<-ch)
	}
}

// fetchHealth queries GET /health.
func fetchHealth(apiURL, apiKey string) tea.Msg {
	req, err := newRequest("GET", apiURL+"/health", apiKey)
	if err != nil {
		return errMsg(err)
	}

	resp, err := (&http.Client{Timeout: 2 * time.Second}).Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var h healthMsg
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return h
}

// fetchStatus queries GET /terraform/status for the active records.
func fetchStatus(apiURL, apiKey string) tea.Msg {
	req, err := newRequest("GET", apiURL+"/terraform/status", apiKey)
	if err != nil {
		return errMsg(err)
	}

	resp, err := (&http.Client{Timeout: 2 * time.Second}).Do(req)
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	var body struct {
		ActiveTemplates []registry.Record `json:"activeTemplates"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return errMsg(err)
	}
	return statusMsg(body.ActiveTemplates)
}
