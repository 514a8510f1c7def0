/*
Package livefx compiles audio effects and swaps them while audio keeps
running.

# Concept

An Effect is a DSP program source plus its build configuration. It's
compiled by an external compiler into an artifact, which is either a local
unit running in-process or a unit hosted by a remote compiler machine.

Every effect owns a slot of two artifacts: current and old. Current is what
audio chains render. When the source is edited, the effect is rebuilt, the
new artifact is published as current and the previous one is kept as old
until the audio side has crossfaded away from it:

	e := livefx.New("reverb", "reverb.dsp", artifact.Local, livefx.WithCompiler(c))
	if err := e.Init(ctx, "-vec -lv 0", 3, compiler.DefaultEndpoint); err != nil {
		// err is the compiler message, e has no current artifact.
	}
	cancel := e.OnChange(func(c livefx.Change) {
		// rebuild, crossfade, then release the old artifact.
	})

# Change detection

The source file is watched after a successful Init. Modification bursts are
collapsed with a two seconds quiet period. Events older than the last
successful build are ignored, they are produced by editors which only
opened the file. Configuration changes made with UpdateCompilationOptions
and UpdateRemoteMachine produce the same notification.

# Rebuild

UpdateFactory compiles a new artifact and publishes it atomically. On
failure the current artifact is untouched, so audio keeps the last good
build. EraseOldFactory must be called only after audio stopped rendering
the old artifact, fader.Manager does that at the end of a crossfade.
*/
package livefx
