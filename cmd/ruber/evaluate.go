package main

import (
	"context"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/23skdu/bert-ruber/internal/bleu"
	"github.com/23skdu/bert-ruber/internal/dataset"
	"github.com/23skdu/bert-ruber/internal/embedding"
	"github.com/23skdu/bert-ruber/internal/logger"
	"github.com/23skdu/bert-ruber/internal/ruber"
	"github.com/23skdu/bert-ruber/internal/stats"
)

var evalFlags struct {
	context   string
	reference string
	reply     string
	human1    string
	human2    string
	method    string
	multiTurn bool
}

var evaluateCmd = &cobra.Command{
	Use:   "evaluate",
	Short: "Correlate BLEU and BERT-RUBER scores with human judgments",
	Example: "ruber evaluate --context data/sample-300.txt --reference data/sample-300-tgt.txt \\\n" +
		"  --reply data/pred.txt --human1 data/annotator1.txt --human2 data/annotator2.txt",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runEvaluateCmd(cmd)
	},
}

func init() {
	f := evaluateCmd.Flags()
	f.StringVar(&evalFlags.context, "context", "", "context file, one dialogue context per line")
	f.StringVar(&evalFlags.reference, "reference", "", "ground-truth reply file")
	f.StringVar(&evalFlags.reply, "reply", "", "generated reply file")
	f.StringVar(&evalFlags.human1, "human1", "", "first annotator's scores, one per line")
	f.StringVar(&evalFlags.human2, "human2", "", "second annotator's scores, one per line")
	f.StringVar(&evalFlags.method, "method", "", "hybrid method Min or Max (default eval.hybrid_method)")
	f.BoolVar(&evalFlags.multiTurn, "multi-turn", false, "sum segment embeddings of multi-turn contexts")
	for _, name := range []string{"context", "reference", "reply", "human1", "human2"} {
		_ = evaluateCmd.MarkFlagRequired(name)
	}
}

// evalInput is one aligned evaluation set.
type evalInput struct {
	Contexts   []string
	References []string
	Replies    []string
	Human1     []float64
	Human2     []float64
}

func (in *evalInput) validate() error {
	n := len(in.Contexts)
	for name, l := range map[string]int{
		"references": len(in.References),
		"replies":    len(in.Replies),
		"human1":     len(in.Human1),
		"human2":     len(in.Human2),
	} {
		if l != n {
			return fmt.Errorf("%w: %d contexts, %d %s", dataset.ErrLengthMismatch, n, l, name)
		}
	}
	if n == 0 {
		return fmt.Errorf("no examples to evaluate")
	}
	return nil
}

func readEvalInput() (*evalInput, error) {
	var in evalInput
	var err error
	if in.Contexts, err = dataset.ReadLines(evalFlags.context); err != nil {
		return nil, err
	}
	if in.References, err = dataset.ReadLines(evalFlags.reference); err != nil {
		return nil, err
	}
	if in.Replies, err = dataset.ReadLines(evalFlags.reply); err != nil {
		return nil, err
	}
	if in.Human1, err = dataset.ReadScores(evalFlags.human1); err != nil {
		return nil, err
	}
	if in.Human2, err = dataset.ReadScores(evalFlags.human2); err != nil {
		return nil, err
	}
	return &in, in.validate()
}

func runEvaluateCmd(cmd *cobra.Command) error {
	ctx := cmd.Context()
	in, err := readEvalInput()
	if err != nil {
		return err
	}

	methodName := cfg.Eval.HybridMethod
	if evalFlags.method != "" {
		methodName = evalFlags.method
	}
	method, err := ruber.ParseMethod(methodName)
	if err != nil {
		return err
	}
	policy, err := ruber.PolicyFor(cfg.Train.CheckpointPolicy)
	if err != nil {
		return err
	}
	device, err := ruber.ParseDevice(cfg.Model.Device)
	if err != nil {
		return err
	}
	m, _, err := ruber.LoadBest(checkpointDir(), policy, device)
	if err != nil {
		return err
	}

	_, stopMonitor := startMonitor(uuid.NewString())
	defer stopMonitor()

	p, err := openProvider(ctx)
	if err != nil {
		return err
	}
	defer closeProvider(p)

	opts := ruber.DefaultOptions()
	opts.MultiTurn = evalFlags.multiTurn
	opts.Delimiter = cfg.Extract.Delimiter
	opts.MaxTurns = cfg.Extract.MaxTurns
	opts.Progress = cmd.ErrOrStderr()
	return evaluate(ctx, p, m, in, method, opts, cmd.OutOrStdout())
}

// evaluate scores every example with BLEU-1..4 and BERT-RUBER and prints
// each metric's correlation with the first annotator, preceded by the
// agreement between the two annotators.
func evaluate(ctx context.Context, p embedding.Provider, m *ruber.Model, in *evalInput, method ruber.Method, opts ruber.Options, out io.Writer) error {
	scorer, err := ruber.New(p, m, opts)
	if err != nil {
		return err
	}
	res, err := scorer.Scores(ctx, in.Contexts, in.References, in.Replies, method)
	if err != nil {
		return err
	}

	var bleus [bleu.MaxOrder][]float64
	for i := range in.Replies {
		for n := 1; n <= bleu.MaxOrder; n++ {
			s, err := bleu.Score(in.References[i], in.Replies[i], n)
			if err != nil {
				return err
			}
			bleus[n-1] = append(bleus[n-1], s)
		}
	}
	logger.Log.Info("examples scored", "count", len(in.Replies), "method", string(method))

	reports := []struct {
		name   string
		scores []float64
	}{
		{"Human", in.Human2},
		{"BLEU-1", bleus[0]},
		{"BLEU-2", bleus[1]},
		{"BLEU-3", bleus[2]},
		{"BLEU-4", bleus[3]},
		{"BERT s_U", res.Unreferenced},
		{"BERT s_R", res.Referenced},
		{"BERT RUBER", res.Hybrid},
	}
	for _, r := range reports {
		if _, err := stats.Show(out, r.name, in.Human1, r.scores); err != nil {
			return err
		}
	}
	return nil
}
