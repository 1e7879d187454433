package transport

import "fmt"

// Destinations used by the quiz server. Subscriptions use /lobby/{code};
// client intents are sent to /app/game/{code}/{action}.

func LobbyTopic(code string) string { return fmt.Sprintf("/lobby/%s", code) }

func ReadyDestination(code string) string { return appDestination(code, "ready") }

func StartDestination(code string) string { return appDestination(code, "start") }

func AnswerDestination(code string) string { return appDestination(code, "answer") }

func ResetReadyDestination(code string) string { return appDestination(code, "resetReady") }

func ResyncDestination(code string) string { return appDestination(code, "resync") }

func appDestination(code, action string) string {
	return fmt.Sprintf("/app/game/%s/%s", code, action)
}
