package client

// Location where a journal entry was written
type Location struct {
	Lat     string `json:"lat"`
	Lon     string `json:"lon"`
	Address string `json:"address,omitempty"`
}

// Entry is a journal reflection. Timestamp doubles as its identifier.
type Entry struct {
	Week       string    `json:"week,omitempty"`
	Title      string    `json:"title,omitempty"`
	Date       string    `json:"date,omitempty"`
	TaskName   string    `json:"taskName,omitempty"`
	Reflection string    `json:"reflection,omitempty"`
	Location   *Location `json:"location,omitempty"`
	Tech       []string  `json:"tech,omitempty"`
	Timestamp  string    `json:"timestamp,omitempty"`
}

// Score is one finished quiz run
type Score struct {
	UserID             string  `json:"userId"`
	UserName           string  `json:"userName"`
	Mode               string  `json:"mode"`
	Score              int     `json:"score"`
	QuestionsAttempted int     `json:"questionsAttempted,omitempty"`
	CorrectAnswers     int     `json:"correctAnswers,omitempty"`
	Accuracy           float64 `json:"accuracy,omitempty"`
	Duration           int     `json:"duration,omitempty"`
	Timestamp          string  `json:"timestamp,omitempty"`
}

// LeaderboardRow is a score flattened with its player
type LeaderboardRow = Score

// User is a quiz player
type User struct {
	UserID    string `json:"userId"`
	UserName  string `json:"userName"`
	CreatedAt string `json:"createdAt,omitempty"`
}
