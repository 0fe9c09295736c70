package usecase

// Topics published through the ResultPublisher.
const (
	TopicAlarm          = "/topic/alarm"
	TopicFavoriteUpdate = "/topic/favoriteUpdate"
	TopicMarketData     = "/topic/market-data"
	TopicTopMarketData  = "/topic/top-5-market-data"
	TopicErrorLogs      = "/topic/error-logs"
)

type nopMetrics struct{}

func (nopMetrics) RecordTick(string)                       {}
func (nopMetrics) RecordDroppedTick(string, string)        {}
func (nopMetrics) RecordAlarm(string, string)              {}
func (nopMetrics) RecordEvicted(int)                       {}
func (nopMetrics) SetPairs(int)                            {}
func (nopMetrics) RecordError(string)                      {}
func (nopMetrics) RecordLastPrice(string, string, float64) {}
func (nopMetrics) RecordLatency(string, float64)           {}
