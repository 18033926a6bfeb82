package physics

var VelocityFor = velocityFor
