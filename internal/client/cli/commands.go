package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// SendFile encrypts and uploads a file from disk. The upload runs in the
// background; progress shows up under "list".
func (a *App) SendFile(ctx context.Context, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	id, err := a.manager.Upload(ctx, filepath.Base(path), "application/octet-stream", data)
	if err != nil {
		return err
	}
	fmt.Printf("Uploading %q as %s\n", filepath.Base(path), id)
	return nil
}

// SendText prompts for a multi-line snippet and uploads it as text content.
func (a *App) SendText(ctx context.Context) error {
	text, err := GetMultiline(a.reader, "Enter text", os.Stdout)
	if err != nil {
		return err
	}
	if text == "" {
		return fmt.Errorf("nothing to send")
	}
	name, err := GetSimpleText(a.reader, "Name (optional)", os.Stdout)
	if err != nil {
		return err
	}

	id, err := a.manager.Upload(ctx, name, "text/plain", []byte(text))
	if err != nil {
		return err
	}
	fmt.Printf("Uploading text as %s\n", id)
	return nil
}

// List prints every known transfer with its direction, state and progress.
func (a *App) List(ctx context.Context) error {
	records := a.manager.Records()
	if len(records) == 0 {
		fmt.Println("No content")
		return nil
	}
	sort.Slice(records, func(i, j int) bool { return records[i].StartedAt.Before(records[j].StartedAt) })

	for _, r := range records {
		done, total := r.Progress()
		line := fmt.Sprintf("%s  %-8s %-9s %d/%d chunks", r.ContentID, r.Direction, r.State(), done, total)
		if r.Name != "" {
			line += "  " + r.Name
		}
		if err := r.Err(); err != nil {
			line += fmt.Sprintf("  (%v)", err)
		}
		fmt.Println(line)
	}
	return nil
}

// Get writes a received content item to disk, or prints it when it is
// plain text and no path was given.
func (a *App) Get(ctx context.Context, contentID, path string) error {
	a.mu.Lock()
	c, ok := a.received[contentID]
	a.mu.Unlock()
	if !ok {
		return fmt.Errorf("content %s is not available locally (still transferring?)", contentID)
	}

	if path == "" {
		if c.ContentType == "text/plain" {
			fmt.Println(string(c.Data))
			return nil
		}
		path = c.Name
		if path == "" {
			path = contentID
		}
	}
	if err := os.WriteFile(path, c.Data, 0o600); err != nil {
		return err
	}
	fmt.Printf("Wrote %d bytes to %s\n", len(c.Data), path)
	return nil
}

// Remove deletes a content item from the session for every member.
func (a *App) Remove(ctx context.Context, contentID string) error {
	return a.manager.Delete(contentID)
}

// Rename relabels a content item for every member.
func (a *App) Rename(ctx context.Context, contentID, name string) error {
	return a.manager.Rename(contentID, name)
}

// CancelTransfer aborts an in-flight upload or download.
func (a *App) CancelTransfer(ctx context.Context, contentID string) error {
	a.manager.Cancel(contentID)
	return nil
}

// Clear wipes the whole session after an explicit confirmation.
func (a *App) Clear(ctx context.Context) error {
	answer, err := GetSimpleText(a.reader, "Remove ALL session content? (yes/no)", os.Stdout)
	if err != nil {
		return err
	}
	if answer != "yes" {
		fmt.Println("Aborted")
		return nil
	}
	return a.manager.Clear()
}

// waitIdle is a small convenience for scripted use: block until no
// transfer is pending or active, or the timeout passes.
func (a *App) waitIdle(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		busy := false
		for _, r := range a.manager.Records() {
			switch r.State() {
			case "pending", "active":
				busy = true
			}
		}
		if !busy {
			return
		}
		time.Sleep(100 * time.Millisecond)
	}
}
