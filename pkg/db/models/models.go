package models

// All lists every persisted model, in dependency order, for schema bootstrapping in tests and dev.
func All() []any {
	return []any{
		&Student{},
		&Encadrant{},
		&Offer{},
		&Application{},
		&Affectation{},
		&AttendanceSummary{},
		&Notification{},
		&DeadLetter{},
	}
}
