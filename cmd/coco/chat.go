package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"coco/internal/retrieval"
	"coco/internal/store"
)

func runChat() error {
	a, err := newApp(workspaceFlag)
	if err != nil {
		return err
	}
	defer a.Close()
	if err := a.requireEngine(); err != nil {
		return err
	}

	a.scheduler.Start()
	defer a.scheduler.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Println("COCO is awake. Type /help for commands, /quit to leave.")
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for {
		fmt.Print("you> ")
		if !scanner.Scan() {
			fmt.Println()
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "/") {
			if quit := a.chatCommand(ctx, line); quit {
				return nil
			}
			continue
		}

		rec, err := a.engine.ProcessTurn(ctx, line)
		if err != nil {
			if ctx.Err() != nil {
				fmt.Println("\ninterrupted")
				return nil
			}
			fmt.Println("coco> sorry, that failed:", err)
			continue
		}
		fmt.Println("coco>", rec.AgentText)
		if len(rec.ToolCalls) > 0 {
			names := make([]string, len(rec.ToolCalls))
			for i, tc := range rec.ToolCalls {
				names[i] = tc.Name
			}
			fmt.Printf("      (used %s in %s)\n", strings.Join(names, ", "), rec.Elapsed.Round(time.Millisecond))
		}
	}
}

// chatCommand handles slash commands. Returns true when the session ends.
func (a *app) chatCommand(ctx context.Context, line string) bool {
	cmd, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch cmd {
	case "/quit", "/exit":
		fmt.Println("goodbye")
		return true
	case "/help":
		fmt.Println(`commands:
  /recall <query>   search facts and semantic memory
  /facts            fact store statistics
  /memory           working memory and summary state
  /tasks            scheduled task overview
  /quit             leave`)
	case "/recall":
		if rest == "" {
			fmt.Println("usage: /recall <query>")
			return false
		}
		a.printRecall(ctx, rest)
	case "/facts":
		a.printFactStats()
	case "/memory":
		a.printMemoryStats()
	case "/tasks":
		a.printTasks()
	default:
		fmt.Println("unknown command, try /help")
	}
	return false
}

func (a *app) printRecall(ctx context.Context, query string) {
	decision := retrieval.Route(query)

	matches, err := a.persist.SearchFacts(query, 10, decision.SuggestedTypes)
	if err != nil {
		fmt.Println("fact search failed:", err)
		return
	}
	semantic, err := a.persist.RetrieveSemantic(ctx, query, 5)
	if err != nil {
		fmt.Println("semantic search failed:", err)
		return
	}

	if len(matches) == 0 && len(semantic) == 0 {
		fmt.Println("nothing remembered about that")
		return
	}
	if len(matches) > 0 {
		fmt.Printf("facts (route %s, confidence %.2f):\n", decision.Target, decision.Confidence)
		for _, m := range matches {
			fmt.Printf("  [%s] %s (%s)\n", m.Fact.Type, m.Fact.Content, m.Fact.Timestamp.Format("2006-01-02"))
		}
	}
	if len(semantic) > 0 {
		fmt.Println("related memories:")
		for _, e := range semantic {
			fmt.Printf("  %s\n", firstLine(e.Content))
		}
	}
}

func (a *app) printFactStats() {
	stats, err := a.persist.Stats()
	if err != nil {
		fmt.Println("stats failed:", err)
		return
	}
	fmt.Printf("%d facts, average importance %.2f\n", stats.Total, stats.AvgImportance)
	for factType, n := range stats.ByType {
		fmt.Printf("  %-15s %d\n", factType, n)
	}
}

func (a *app) printMemoryStats() {
	exchanges, _ := a.persist.ExchangeCount()
	semantic, _ := a.persist.SemanticCount()
	fmt.Printf("working memory: %d live exchanges (checkpoint %d)\n",
		a.buffer.Len(), a.cfg.Memory.BufferRollingCheckpoint)
	fmt.Printf("summaries: %d live\n", a.summaries.Count())
	fmt.Printf("durable: %d exchanges, %d semantic entries\n", exchanges, semantic)
}

func (a *app) printTasks() {
	tasks, err := a.scheduler.List()
	if err != nil {
		fmt.Println("task list failed:", err)
		return
	}
	if len(tasks) == 0 {
		fmt.Println("no scheduled tasks")
		return
	}
	for _, t := range tasks {
		fmt.Println(" ", formatTask(t))
	}
}

func formatTask(t *store.Task) string {
	state := "on"
	if !t.Enabled {
		state = "off"
	}
	next := "-"
	if !t.NextRunAt.IsZero() {
		next = t.NextRunAt.Format("Jan 2 15:04")
	}
	last := t.LastStatus
	if last == "" {
		last = "never ran"
	}
	return fmt.Sprintf("%s  %-20s %-14s %-22s [%s] next %s, last %s",
		t.ID[:8], t.Name, t.TemplateName, t.ScheduleText, state, next, last)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
