package log

import "log/slog"

func PlanID[T ~string](id T) slog.Attr {
	return slog.String("plan_id", string(id))
}

func PlanExecutionID[T ~string](id T) slog.Attr {
	return slog.String("plan_execution_id", string(id))
}

func NodeExecutionID[T ~string](id T) slog.Attr {
	return slog.String("node_execution_id", string(id))
}

func NodeID[T ~string](id T) slog.Attr {
	return slog.String("node_id", string(id))
}

func CorrelationID[T ~string](id T) slog.Attr {
	return slog.String("correlation_id", string(id))
}

func Topic(topic string) slog.Attr {
	return slog.String("topic", topic)
}

func MessageID(id string) slog.Attr {
	return slog.String("message_id", id)
}

func Status[T ~string](status T) slog.Attr {
	return slog.String("status", string(status))
}

func Error(err error) slog.Attr {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return slog.String("error", msg)
}

func ErrorString(msg string) slog.Attr {
	return slog.String("error", msg)
}
