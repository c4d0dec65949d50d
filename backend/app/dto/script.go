package dto

import "time"

type CreateScriptRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	Timeout int    `json:"timeout,omitempty"` // seconds
}

type ScriptResponse struct {
	ID        uint      `json:"id"`
	Name      string    `json:"name"`
	Content   string    `json:"content,omitempty"`
	Timeout   int       `json:"timeout"`
	CreatedAt time.Time `json:"createdAt"`
}
