package types

// Status is the fine-grained lifecycle state of a document.
type Status string

const (
	StatusNew              Status = "New"
	StatusPredecessorOK    Status = "Predecessor_OK"
	StatusPredecessorKO    Status = "Predecessor_KO"
	StatusRelateOK         Status = "Relate_OK"
	StatusRelateKO         Status = "Relate_KO"
	StatusTransformed      Status = "Transformed"
	StatusErrorTransformed Status = "Error_transformed"
	StatusReadyToSend      Status = "Ready_to_send"
	StatusErrorChecking    Status = "Error_checking"
	StatusNotFound         Status = "Not_found"
	StatusFilter           Status = "Filter"
	StatusFilterOK         Status = "Filter_OK"
	StatusFilterKO         Status = "Filter_KO"
	StatusSend             Status = "Send"
	StatusFound            Status = "Found"
	StatusNoSend           Status = "No_send"
	StatusCancel           Status = "Cancel"
)

// GlobalStatus is the coarse state derived from Status.
type GlobalStatus string

const (
	GlobalOpen   GlobalStatus = "Open"
	GlobalClose  GlobalStatus = "Close"
	GlobalCancel GlobalStatus = "Cancel"
	GlobalError  GlobalStatus = "Error"
)

// globalStatus is the fixed status -> global status table.
var globalStatus = map[Status]GlobalStatus{
	StatusNew:              GlobalOpen,
	StatusPredecessorOK:    GlobalOpen,
	StatusRelateOK:         GlobalOpen,
	StatusTransformed:      GlobalOpen,
	StatusReadyToSend:      GlobalOpen,
	StatusFilterOK:         GlobalOpen,
	StatusSend:             GlobalClose,
	StatusFound:            GlobalClose,
	StatusFilter:           GlobalCancel,
	StatusNoSend:           GlobalCancel,
	StatusCancel:           GlobalCancel,
	StatusFilterKO:         GlobalError,
	StatusPredecessorKO:    GlobalError,
	StatusRelateKO:         GlobalError,
	StatusErrorTransformed: GlobalError,
	StatusErrorChecking:    GlobalError,
	StatusNotFound:         GlobalError,
}

// AllStatuses lists every status in table order.
func AllStatuses() []Status {
	return []Status{
		StatusNew, StatusPredecessorOK, StatusPredecessorKO, StatusRelateOK,
		StatusRelateKO, StatusTransformed, StatusErrorTransformed, StatusReadyToSend,
		StatusErrorChecking, StatusNotFound, StatusFilter, StatusFilterOK,
		StatusFilterKO, StatusSend, StatusFound, StatusNoSend, StatusCancel,
	}
}

// GlobalStatusOf maps a status to its global status.
// Unknown statuses map to Error so they surface to operators.
func GlobalStatusOf(s Status) GlobalStatus {
	if g, ok := globalStatus[s]; ok {
		return g
	}
	return GlobalError
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	_, ok := globalStatus[s]
	return ok
}

// CountsAttempt reports whether entering a status with this global status
// increments the attempt counter.
func (g GlobalStatus) CountsAttempt() bool {
	return g == GlobalError || g == GlobalClose
}
