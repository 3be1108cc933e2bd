// Package simulation runs the agent-based epidemic model.
//
// A Simulation is one replicate: it creates a population, assigns initial
// health states, then advances every agent through a fixed pipeline of events
// per iteration (tally, exposure, transitions, isolation, tally, report).
// A Group clones a template Simulation once per replicate and runs the clones
// on a bounded worker pool, each with its own random stream.
//
// Usage:
//
//	p := params.Default()
//	p.Name = "baseline"
//	group := simulation.NewGroup(simulation.GroupConfig{
//	    Sink: telemetry.NewLineSink(os.Stdout, telemetry.FormatCSV),
//	})
//	if err := group.CreateSimulations(simulation.New(p)); err != nil {
//	    return err
//	}
//	return group.Run(ctx)
package simulation
