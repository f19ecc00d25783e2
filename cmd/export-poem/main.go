package main

import (
	"flag"
	"fmt"
	"log"

	"rhyme-circle/internal/config"
	"rhyme-circle/internal/db"
)

// export-poem prints the lines of a game, most recent session first when a
// code has been reused.
func main() {
	code := flag.String("code", "", "join code of the game")
	flag.Parse()

	if *code == "" {
		log.Fatal("join code is required")
	}
	if err := config.LoadDotEnv(".env"); err != nil {
		log.Printf("failed to load .env: %v", err)
	}

	conn, err := db.Open()
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}
	defer func() {
		if err := db.Close(conn); err != nil {
			log.Printf("database close failed: %v", err)
		}
	}()

	var session db.GameSession
	if err := conn.Where("code = ?", *code).Order("created_at desc").First(&session).Error; err != nil {
		log.Fatalf("game %s not found: %v", *code, err)
	}

	var lines []db.Line
	if err := conn.Where("game_id = ?", session.ID).Order("line_number asc").Find(&lines).Error; err != nil {
		log.Fatalf("load lines: %v", err)
	}
	if len(lines) == 0 {
		log.Fatalf("game %s has no lines yet", *code)
	}

	authors := make(map[int64]string)
	for _, line := range lines {
		if _, ok := authors[line.AuthorID]; ok {
			continue
		}
		var user db.User
		if err := conn.Where("id = ?", line.AuthorID).First(&user).Error; err == nil && user.DisplayName != "" {
			authors[line.AuthorID] = user.DisplayName
		} else {
			authors[line.AuthorID] = "Player"
		}
	}

	fmt.Printf("Game #%s (%s, %d lines)\n\n", session.Code, session.Status, session.TotalLines)
	for _, line := range lines {
		fmt.Printf("%3d. %s — %s\n", line.LineNumber, line.Text, authors[line.AuthorID])
	}
}
