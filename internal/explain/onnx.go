package explain

import (
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"soclite-backend/internal/baseline"
	"soclite-backend/internal/detect"
	"soclite-backend/internal/feature"
)

var ortEnv struct {
	once sync.Once
	err  error
}

func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		if libPath != "" {
			ort.SetSharedLibraryPath(libPath)
		}
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXAttribution runs a feature-attribution model over the per-feature
// z-scores: one input and one output tensor of shape [1, n] in schema
// order. The attribution weight scales the absolute z-score, so the
// output keeps the same contract and tie-break as ZContribution.
type ONNXAttribution struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	schema     feature.Schema
	inputName  string
	outputName string
}

func NewONNXAttribution(modelPath, libraryPath string, schema feature.Schema) (*ONNXAttribution, error) {
	if err := initORT(libraryPath); err != nil {
		return nil, fmt.Errorf("initialize onnx runtime: %w", err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("read attribution model info: %w", err)
	}
	if len(inputs) != 1 || len(outputs) != 1 {
		return nil, fmt.Errorf("attribution model must have one input and one output, got %d/%d", len(inputs), len(outputs))
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath, []string{inputs[0].Name}, []string{outputs[0].Name}, nil)
	if err != nil {
		return nil, fmt.Errorf("create attribution session: %w", err)
	}
	return &ONNXAttribution{
		session:    session,
		schema:     schema,
		inputName:  inputs[0].Name,
		outputName: outputs[0].Name,
	}, nil
}

func (e *ONNXAttribution) Explain(vec feature.Vector, state baseline.State, score detect.Result) ([]Insight, error) {
	byName := make(map[string]detect.FeatureScore, len(score.PerFeature))
	for _, fs := range score.PerFeature {
		byName[fs.Feature] = fs
	}
	zs := make([]float32, len(e.schema.Names))
	for i, name := range e.schema.Names {
		zs[i] = float32(byName[name].Z)
	}

	weights, err := e.run(zs)
	if err != nil {
		return nil, err
	}

	insights := make([]Insight, 0, len(e.schema.Names))
	for i, name := range e.schema.Names {
		fs := byName[name]
		insights = append(insights, Insight{
			Feature:      name,
			Contribution: math.Abs(float64(weights[i])) * math.Abs(fs.Z),
			Direction:    direction(fs.Value - fs.Mean),
		})
	}
	sortInsights(insights)
	return insights, nil
}

func (e *ONNXAttribution) run(zs []float32) ([]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	shape := ort.NewShape(1, int64(len(zs)))
	input, err := ort.NewTensor(shape, zs)
	if err != nil {
		return nil, fmt.Errorf("create attribution input: %w", err)
	}
	defer input.Destroy()

	output, err := ort.NewEmptyTensor[float32](shape)
	if err != nil {
		return nil, fmt.Errorf("create attribution output: %w", err)
	}
	defer output.Destroy()

	if err := e.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("run attribution model: %w", err)
	}

	src := output.GetData()
	if len(src) != len(zs) {
		return nil, fmt.Errorf("attribution model returned %d weights for %d features", len(src), len(zs))
	}
	weights := make([]float32, len(src))
	copy(weights, src)
	return weights, nil
}

func (e *ONNXAttribution) Close() error {
	return e.session.Destroy()
}
