package bridge

// Subject names shared with MathCore
const (
	subjectStart            = "Start."
	subjectStateRequest     = "State.Request."
	subjectStateResponse    = "State.Response."
	subjectLogsListRequest  = "LogsList.Request"
	subjectLogsListResponse = "LogsList.Response"
	subjectGetLogRequest    = "GetLog.Request."
	subjectGetLogResponse   = "GetLog.Response."
)

// StartSubject is where a job body for id is published
func StartSubject(id string) string { return subjectStart + id }

// StateRequestSubject is where a state request for id is published
func StateRequestSubject(id string) string { return subjectStateRequest + id }

// StateResponseSubject is where MathCore answers a state request for id
func StateResponseSubject(id string) string { return subjectStateResponse + id }

// GetLogRequestSubject is where a log fetch for id is published
func GetLogRequestSubject(id string) string { return subjectGetLogRequest + id }

// GetLogResponseSubject is where MathCore answers a log fetch for id
func GetLogResponseSubject(id string) string { return subjectGetLogResponse + id }
