package logging

import "log/slog"

// Domain identifiers

func Chatroom(id string) slog.Attr {
	return slog.String("chatroom_id", id)
}

func User(id string) slog.Attr {
	return slog.String("user_id", id)
}

func Message(id string) slog.Attr {
	return slog.String("message_id", id)
}

func Event(name string) slog.Attr {
	return slog.String("event", name)
}

func Room(name string) slog.Attr {
	return slog.String("room", name)
}

func Client(id string) slog.Attr {
	return slog.String("client_id", id)
}

// Request / tracing

func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

func TraceID(id string) slog.Attr {
	return slog.String("trace_id", id)
}

// Error handling

func Err(err error) slog.Attr {
	if err == nil {
		return slog.String("error", "")
	}
	return slog.String("error", err.Error())
}
