package xray

import "strings"

// SelectedFile — файл, выбранный пользователем. MediaType и Size берутся из того,
// что заявил источник (Telegram, файловая система), содержимое не сниффится.
type SelectedFile struct {
	Name      string
	MediaType string
	Size      int64
	Data      []byte
}

// Prediction — одна строка таблицы классификации. Probability в процентах (0..100).
type Prediction struct {
	Class       string  `json:"class"`
	Probability float64 `json:"probability"`
}

// ClassificationResponse — тело ответа /predict_classification.
type ClassificationResponse struct {
	Predictions []Prediction `json:"predictions"`
}

// Result is either a processed image or a list of predictions, never both.
// Predictions keep the backend order.
type Result struct {
	Image       []byte
	ContentType string
	Predictions []Prediction
}

func (r Result) IsImage() bool { return r.Image != nil }

type Route string

const (
	RouteDetection      Route = "detection"
	RouteClassification Route = "classification"
)

// Path returns the backend path for the route.
func (r Route) Path() string {
	switch r {
	case RouteClassification:
		return "/predict_classification"
	default:
		return "/predict_detection"
	}
}

// ParseRoute понимает "detect", "detection", "classify", "classification".
func ParseRoute(s string) (Route, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "detect", "detection", "":
		return RouteDetection, true
	case "classify", "classification":
		return RouteClassification, true
	default:
		return "", false
	}
}

type ConnectionStatus string

const (
	StatusChecking  ConnectionStatus = "checking"
	StatusConnected ConnectionStatus = "connected"
	StatusFailed    ConnectionStatus = "failed"
)

// ResultFileName — имя, под которым отдаётся обработанное изображение.
const ResultFileName = "chest-xray-result.png"
