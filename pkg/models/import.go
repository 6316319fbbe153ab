package models

// ImportMessage is the payload import paths publish to the record import topic.
type ImportMessage struct {
	Source  string           `json:"source"`
	Records []ResolveRequest `json:"records"`
}
