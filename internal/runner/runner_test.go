package runner

import (
	"context"
	"strings"
	"testing"

	"github.com/emicklei/dot"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	mock "github.com/stretchr/testify/mock"
)

// MockEntryHandler implements Handler
type MockEntryHandler struct {
	mock.Mock
}

func (m *MockEntryHandler) Classify(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEntryHandler) Parse(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEntryHandler) Validate(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEntryHandler) Admit(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockEntryHandler) OnSuccess(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockEntryHandler) OnFailure(ctx context.Context, phase Phase, err error) {
	m.Called(ctx, phase, err)
}

func (m *MockEntryHandler) OnDefer(ctx context.Context, phase Phase, err error) {
	m.Called(ctx, phase, err)
}

func TestRunEntry(t *testing.T) {
	errParse := errors.New("missing asset_tag column")
	errUnresolved := errors.Wrap(ErrDefer, "A9")

	tests := []struct {
		name          string
		from          Phase
		mockSetup     func(*MockEntryHandler)
		expectedPhase Phase
		expectDefer   bool
		expectedError error
	}{
		{
			name: "Successful execution",
			from: PhaseClassify,
			mockSetup: func(m *MockEntryHandler) {
				m.On("Classify", mock.Anything).Return(nil).Once()
				m.On("Parse", mock.Anything).Return(nil).Once()
				m.On("Validate", mock.Anything).Return(nil).Once()
				m.On("Admit", mock.Anything).Return(nil).Once()
				m.On("OnSuccess", mock.Anything).Once()
			},
			expectedPhase: PhaseAdmit,
		},
		{
			name: "Failure during Parse",
			from: PhaseClassify,
			mockSetup: func(m *MockEntryHandler) {
				m.On("Classify", mock.Anything).Return(nil).Once()
				m.On("Parse", mock.Anything).Return(errParse).Once()
				m.On("OnFailure", mock.Anything, PhaseParse, errParse).Once()
			},
			expectedPhase: PhaseParse,
			expectedError: errParse,
		},
		{
			name: "Deferred at Validate",
			from: PhaseClassify,
			mockSetup: func(m *MockEntryHandler) {
				m.On("Classify", mock.Anything).Return(nil).Once()
				m.On("Parse", mock.Anything).Return(nil).Once()
				m.On("Validate", mock.Anything).Return(errUnresolved).Once()
				m.On("OnDefer", mock.Anything, PhaseValidate, errUnresolved).Once()
			},
			expectedPhase: PhaseValidate,
			expectDefer:   true,
			expectedError: errUnresolved,
		},
		{
			name: "Replay from Validate",
			from: PhaseValidate,
			mockSetup: func(m *MockEntryHandler) {
				m.On("Validate", mock.Anything).Return(nil).Once()
				m.On("Admit", mock.Anything).Return(nil).Once()
				m.On("OnSuccess", mock.Anything).Once()
			},
			expectedPhase: PhaseAdmit,
		},
		{
			name: "Unknown phase",
			from: Phase("Plan"),
			mockSetup: func(m *MockEntryHandler) {
				m.On("OnFailure", mock.Anything, Phase("Plan"), mock.Anything).Once()
			},
			expectedPhase: Phase("Plan"),
			expectedError: ErrUnknownPhase,
		},
		{
			name: "Panic in Admit",
			from: PhaseValidate,
			mockSetup: func(m *MockEntryHandler) {
				m.On("Validate", mock.Anything).Return(nil).Once()
				m.On("Admit", mock.Anything).Run(func(mock.Arguments) { panic("boom") }).Return(nil).Once()
				m.On("OnFailure", mock.Anything, PhaseAdmit, mock.Anything).Once()
			},
			expectedPhase: PhaseAdmit,
			expectedError: ErrPanic,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockHandler := new(MockEntryHandler)
			tt.mockSetup(mockHandler) // Set up the mock expectations

			r := New(logrus.NewEntry(logrus.New()))

			result := r.RunFrom(context.Background(), tt.from, mockHandler)

			assert.Equal(t, tt.expectedPhase, result.Phase)
			assert.Equal(t, tt.expectDefer, result.Deferred)

			if tt.expectedError != nil {
				assert.ErrorIs(t, result.Err, tt.expectedError)
			} else {
				assert.NoError(t, result.Err)
			}

			mockHandler.AssertExpectations(t)
		})
	}
}

func TestGraph(t *testing.T) {
	mermaid := dot.MermaidGraph(Graph(), dot.MermaidTopDown)

	for _, p := range Phases() {
		assert.True(t, strings.Contains(mermaid, string(p)), p)
	}

	assert.Contains(t, mermaid, "deferred")
}
